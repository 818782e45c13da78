// Package postgres implements domain.Repository on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/YUJAEYUN/exercisemate/internal/domain"
)

const uniqueViolation = "23505"

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides Postgres-backed persistence for users, groups, the
// exercise ledger and weekly stats.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ domain.Repository = (*Repository)(nil)

// withTx runs fn inside a transaction, committing when fn returns nil.
func (r *Repository) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
}

const userColumns = `user_id, display_name, email, avatar, COALESCE(group_id::text, ''),
        notifications_enabled, reminder_time, reminder_days, goal_reminder, penalty_warning, created_at, updated_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u    domain.User
		days []int32
	)
	err := row.Scan(&u.ID, &u.DisplayName, &u.Email, &u.Avatar, &u.GroupID,
		&u.Notifications.Enabled, &u.Notifications.ReminderTime, &days,
		&u.Notifications.GoalReminder, &u.Notifications.PenaltyWarning, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, err
	}
	u.Notifications.ReminderDays = make([]int, 0, len(days))
	for _, d := range days {
		u.Notifications.ReminderDays = append(u.Notifications.ReminderDays, int(d))
	}
	return u, nil
}

func toInt32s(values []int) []int32 {
	out := make([]int32, 0, len(values))
	for _, v := range values {
		out = append(out, int32(v))
	}
	return out
}

// CreateUser implements domain.UserRepository.
func (r *Repository) CreateUser(ctx context.Context, user domain.User) (*domain.User, bool, error) {
	const stmt = `INSERT INTO users (user_id, display_name, email, avatar, notifications_enabled, reminder_time, reminder_days, goal_reminder, penalty_warning, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (user_id) DO NOTHING`

	n := user.Notifications
	tag, err := r.pool.Exec(ctx, stmt,
		user.ID, user.DisplayName, user.Email, user.Avatar,
		n.Enabled, n.ReminderTime, toInt32s(n.ReminderDays), n.GoalReminder, n.PenaltyWarning,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return nil, false, err
	}

	stored, err := r.GetUser(ctx, user.ID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, domain.ErrUserNotFound
	}
	return stored, tag.RowsAffected() == 1, nil
}

// GetUser implements domain.UserRepository.
func (r *Repository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id=$1`, userID)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	tokens, err := r.ListPushTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.PushTokens = tokens
	return &user, nil
}

// UpdateUser implements domain.UserRepository.
func (r *Repository) UpdateUser(ctx context.Context, userID string, patch domain.UserPatch, at time.Time) error {
	const stmt = `UPDATE users SET
            display_name = COALESCE($2, display_name),
            avatar = COALESCE($3, avatar),
            updated_at = $4
        WHERE user_id = $1`

	var avatar *string
	if patch.Avatar != nil {
		v := string(*patch.Avatar)
		avatar = &v
	}
	tag, err := r.pool.Exec(ctx, stmt, userID, patch.DisplayName, avatar, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// SaveNotificationSettings implements domain.UserRepository.
func (r *Repository) SaveNotificationSettings(ctx context.Context, userID string, s domain.NotificationSettings, at time.Time) error {
	const stmt = `UPDATE users SET
            notifications_enabled = $2,
            reminder_time = $3,
            reminder_days = $4,
            goal_reminder = $5,
            penalty_warning = $6,
            updated_at = $7
        WHERE user_id = $1`

	tag, err := r.pool.Exec(ctx, stmt, userID, s.Enabled, s.ReminderTime, toInt32s(s.ReminderDays), s.GoalReminder, s.PenaltyWarning, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// ListNotifiableUsers implements domain.UserRepository.
func (r *Repository) ListNotifiableUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE notifications_enabled ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	index := make(map[string]int)
	ids := make([]string, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		index[u.ID] = len(users)
		ids = append(ids, u.ID)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return users, nil
	}

	tokenRows, err := r.pool.Query(ctx, `SELECT `+tokenColumns+` FROM push_tokens WHERE user_id = ANY($1) ORDER BY last_used_at DESC`, ids)
	if err != nil {
		return nil, err
	}
	defer tokenRows.Close()
	for tokenRows.Next() {
		t, err := scanToken(tokenRows)
		if err != nil {
			return nil, err
		}
		i := index[t.UserID]
		users[i].PushTokens = append(users[i].PushTokens, t)
	}
	return users, tokenRows.Err()
}

const tokenColumns = `user_id, token, device_id, device_type, user_agent, last_used_at, created_at`

func scanToken(row pgx.Row) (domain.PushToken, error) {
	var t domain.PushToken
	err := row.Scan(&t.UserID, &t.Token, &t.DeviceID, &t.DeviceType, &t.UserAgent, &t.LastUsedAt, &t.CreatedAt)
	return t, err
}

// UpsertPushToken implements domain.UserRepository.
func (r *Repository) UpsertPushToken(ctx context.Context, token domain.PushToken) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		// A token value belongs to one device at a time.
		if _, err := tx.Exec(ctx,
			`DELETE FROM push_tokens WHERE token = $1 AND NOT (user_id = $2 AND device_id = $3)`,
			token.Token, token.UserID, token.DeviceID,
		); err != nil {
			return err
		}

		const stmt = `INSERT INTO push_tokens (user_id, device_id, token, device_type, user_agent, last_used_at, created_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7)
            ON CONFLICT (user_id, device_id) DO UPDATE SET
                token = EXCLUDED.token,
                device_type = EXCLUDED.device_type,
                user_agent = EXCLUDED.user_agent,
                last_used_at = EXCLUDED.last_used_at,
                created_at = CASE WHEN push_tokens.token = EXCLUDED.token THEN push_tokens.created_at ELSE EXCLUDED.created_at END`

		_, err := tx.Exec(ctx, stmt,
			token.UserID, token.DeviceID, token.Token, token.DeviceType, token.UserAgent, token.LastUsedAt, token.CreatedAt)
		return err
	})
}

// DeletePushToken implements domain.UserRepository.
func (r *Repository) DeletePushToken(ctx context.Context, userID, deviceID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM push_tokens WHERE user_id = $1 AND device_id = $2`, userID, deviceID)
	return err
}

// DeletePushTokenValue implements domain.UserRepository.
func (r *Repository) DeletePushTokenValue(ctx context.Context, token string) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM push_tokens WHERE token = $1`, token)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListPushTokens implements domain.UserRepository.
func (r *Repository) ListPushTokens(ctx context.Context, userID string) ([]domain.PushToken, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+tokenColumns+` FROM push_tokens WHERE user_id = $1 ORDER BY last_used_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PushToken, 0)
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeletePushTokensUnusedSince implements domain.UserRepository.
func (r *Repository) DeletePushTokensUnusedSince(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM push_tokens WHERE last_used_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

const groupColumns = `group_id::text, name, owner_id, max_members, weekly_goal, invite_code,
        COALESCE(last_goal_achiever, ''), last_goal_achieved_at, created_at, updated_at`

func scanGroup(row pgx.Row) (domain.Group, error) {
	var g domain.Group
	err := row.Scan(&g.ID, &g.Name, &g.OwnerID, &g.MaxMembers, &g.WeeklyGoal, &g.InviteCode,
		&g.LastGoalAchiever, &g.LastGoalAchievedAt, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

func loadMembers(ctx context.Context, q querier, groupID string) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT user_id FROM group_members WHERE group_id = $1::uuid ORDER BY joined_at, user_id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// CreateGroup implements domain.GroupRepository.
func (r *Repository) CreateGroup(ctx context.Context, group domain.Group) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx, `SELECT COALESCE(group_id::text, '') FROM users WHERE user_id = $1 FOR UPDATE`, group.OwnerID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if current != "" {
			return domain.ErrAlreadyInGroup
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO groups (group_id, name, owner_id, max_members, weekly_goal, invite_code, created_at, updated_at)
             VALUES ($1::uuid,$2,$3,$4,$5,$6,$7,$8)`,
			group.ID, group.Name, group.OwnerID, group.MaxMembers, group.WeeklyGoal, group.InviteCode, group.CreatedAt, group.UpdatedAt,
		)
		if isUniqueViolation(err, "groups_invite_code_key") {
			return domain.ErrInviteCodeTaken
		}
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO group_members (group_id, user_id, joined_at) VALUES ($1::uuid, $2, $3)`,
			group.ID, group.OwnerID, group.CreatedAt,
		); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE users SET group_id = $2::uuid, updated_at = $3 WHERE user_id = $1`, group.OwnerID, group.ID, group.CreatedAt)
		return err
	})
}

// GetGroup implements domain.GroupRepository.
func (r *Repository) GetGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	group, err := scanGroup(r.pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE group_id::text = $1`, groupID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	group.Members, err = loadMembers(ctx, r.pool, group.ID)
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// JoinGroup implements domain.GroupRepository. The group row is locked for the
// duration of the admission check so concurrent joins serialise on capacity.
func (r *Repository) JoinGroup(ctx context.Context, code, userID string, at time.Time, admit func(domain.Group, domain.User) error) (*domain.Group, error) {
	var joined domain.Group
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		group, err := scanGroup(tx.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE invite_code = $1 FOR UPDATE`, code))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrGroupNotFound
		}
		if err != nil {
			return err
		}
		if group.Members, err = loadMembers(ctx, tx, group.ID); err != nil {
			return err
		}

		user, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1 FOR UPDATE`, userID))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrUserNotFound
		}
		if err != nil {
			return err
		}

		if err := admit(group, user); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO group_members (group_id, user_id, joined_at) VALUES ($1::uuid, $2, $3)`,
			group.ID, userID, at,
		); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET group_id = $2::uuid, updated_at = $3 WHERE user_id = $1`, userID, group.ID, at); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE groups SET updated_at = $2 WHERE group_id = $1::uuid`, group.ID, at); err != nil {
			return err
		}

		group.Members = append(group.Members, userID)
		group.UpdatedAt = at
		joined = group
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &joined, nil
}

// LeaveGroup implements domain.GroupRepository.
func (r *Repository) LeaveGroup(ctx context.Context, groupID, userID string) (bool, error) {
	deleted := false
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT group_id::text FROM groups WHERE group_id::text = $1 FOR UPDATE`, groupID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrGroupNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1::uuid AND user_id = $2`, locked, userID); err != nil {
			return err
		}

		var remaining int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM group_members WHERE group_id = $1::uuid`, locked).Scan(&remaining); err != nil {
			return err
		}
		if remaining == 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM groups WHERE group_id = $1::uuid`, locked); err != nil {
				return err
			}
			deleted = true
		}

		for _, stmt := range []string{
			`DELETE FROM exercise_records WHERE user_id = $1`,
			`DELETE FROM weekly_stats WHERE user_id = $1`,
			`UPDATE users SET group_id = NULL, updated_at = NOW() WHERE user_id = $1`,
		} {
			if _, err := tx.Exec(ctx, stmt, userID); err != nil {
				return err
			}
		}
		return nil
	})
	return deleted, err
}

// UpdateGroup implements domain.GroupRepository.
func (r *Repository) UpdateGroup(ctx context.Context, groupID string, patch domain.GroupPatch, at time.Time) (*domain.Group, error) {
	const stmt = `UPDATE groups SET
            name = COALESCE($2, name),
            weekly_goal = COALESCE($3, weekly_goal),
            max_members = COALESCE($4, max_members),
            updated_at = $5
        WHERE group_id::text = $1`

	tag, err := r.pool.Exec(ctx, stmt, groupID, patch.Name, patch.WeeklyGoal, patch.MaxMembers, at)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrGroupNotFound
	}
	return r.GetGroup(ctx, groupID)
}

// RecordGoalAchiever implements domain.GroupRepository.
func (r *Repository) RecordGoalAchiever(ctx context.Context, groupID, name string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE groups SET last_goal_achiever = $2, last_goal_achieved_at = $3, updated_at = $3 WHERE group_id::text = $1`,
		groupID, name, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGroupNotFound
	}
	return nil
}

// InsertExerciseRecord implements domain.LedgerRepository with an atomic
// create-if-absent on the record key.
func (r *Repository) InsertExerciseRecord(ctx context.Context, record domain.ExerciseRecord) error {
	const stmt = `INSERT INTO exercise_records (record_id, user_id, group_id, record_date, exercise_type, created_at)
        VALUES ($1, $2, $3::uuid, $4::date, $5, $6)
        ON CONFLICT DO NOTHING`

	tag, err := r.pool.Exec(ctx, stmt, record.ID, record.UserID, record.GroupID, record.Date, record.Type, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert exercise record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyLogged
	}
	return nil
}

const recordColumns = `record_id, user_id, group_id::text, record_date::text, exercise_type, created_at`

func scanRecord(row pgx.Row) (domain.ExerciseRecord, error) {
	var rec domain.ExerciseRecord
	err := row.Scan(&rec.ID, &rec.UserID, &rec.GroupID, &rec.Date, &rec.Type, &rec.CreatedAt)
	return rec, err
}

func collectRecords(rows pgx.Rows, capacity int) ([]domain.ExerciseRecord, error) {
	defer rows.Close()
	out := make([]domain.ExerciseRecord, 0, capacity)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetExerciseRecord implements domain.LedgerRepository.
func (r *Repository) GetExerciseRecord(ctx context.Context, recordID string) (*domain.ExerciseRecord, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM exercise_records WHERE record_id = $1`, recordID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListExerciseRecords implements domain.LedgerRepository.
func (r *Repository) ListExerciseRecords(ctx context.Context, userID, from, to string) ([]domain.ExerciseRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM exercise_records
         WHERE user_id = $1 AND record_date BETWEEN $2::date AND $3::date
         ORDER BY record_date`,
		userID, from, to)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows, 7)
}

// ListExerciseHistory implements domain.LedgerRepository.
func (r *Repository) ListExerciseHistory(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.ExerciseRecord, *domain.Cursor, error) {
	// One extra row tells whether another page exists.
	args := []any{userID, limit + 1}
	query := `SELECT ` + recordColumns + ` FROM exercise_records WHERE user_id = $1`
	if cursor != nil {
		query += ` AND (record_date, record_id) < ($3::date, $4)`
		args = append(args, cursor.Date, cursor.ID)
	}
	query += ` ORDER BY record_date DESC, record_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	results, err := collectRecords(rows, limit+1)
	if err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) > limit {
		results = results[:limit]
		last := results[limit-1]
		next = &domain.Cursor{Date: last.Date, ID: last.ID}
	}
	return results, next, nil
}

// GetWeeklyStats implements domain.StatsRepository.
func (r *Repository) GetWeeklyStats(ctx context.Context, userID, weekStart string) (*domain.WeeklyStats, error) {
	var st domain.WeeklyStats
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, week_start::text, exercise_count, goal, is_rest_week, updated_at
         FROM weekly_stats WHERE user_id = $1 AND week_start = $2::date`,
		userID, weekStart,
	).Scan(&st.UserID, &st.WeekStart, &st.ExerciseCount, &st.Goal, &st.IsRestWeek, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	st.ID = domain.StatsID(st.UserID, st.WeekStart)
	return &st, nil
}

// UpsertWeeklyStats implements domain.StatsRepository. The rest-week flag is
// only written on insert.
func (r *Repository) UpsertWeeklyStats(ctx context.Context, st domain.WeeklyStats) error {
	const stmt = `INSERT INTO weekly_stats (user_id, week_start, exercise_count, goal, is_rest_week, updated_at)
        VALUES ($1, $2::date, $3, $4, $5, $6)
        ON CONFLICT (user_id, week_start) DO UPDATE SET
            exercise_count = EXCLUDED.exercise_count,
            goal = EXCLUDED.goal,
            updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, stmt, st.UserID, st.WeekStart, st.ExerciseCount, st.Goal, st.IsRestWeek, st.UpdatedAt)
	return err
}

// SetRestWeek implements domain.StatsRepository.
func (r *Repository) SetRestWeek(ctx context.Context, userID, weekStart string, rest bool, at time.Time) error {
	const stmt = `INSERT INTO weekly_stats (user_id, week_start, exercise_count, goal, is_rest_week, updated_at)
        VALUES ($1, $2::date, 0, $3, $4, $5)
        ON CONFLICT (user_id, week_start) DO UPDATE SET
            is_rest_week = EXCLUDED.is_rest_week,
            updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, stmt, userID, weekStart, domain.DefaultWeeklyGoal, rest, at)
	return err
}
