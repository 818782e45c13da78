//go:build integration

package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/YUJAEYUN/exercisemate/internal/events"
)

func TestDispatcherPublishesMessages(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	groupID := uuid.NewString()
	require.NoError(t, seedEvent(t, ctx, pool, events.ExerciseLogged{
		RecordID: "u1_2025-10-13", UserID: "u1", GroupID: groupID,
		ExerciseType: "upper", Date: "2025-10-13", OccurredAt: time.Now().UTC(),
	}))

	producer := &stubProducer{}
	registry := &stubRegistry{id: 42}
	dispatcher := NewDispatcher(pool, producer, registry, DispatcherConfig{PollInterval: 10 * time.Millisecond, BatchSize: 5})

	beforeDelivered := testutil.ToFloat64(deliveredCounter)
	beforeHistogram := histogramSampleCount(t)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Equal(t, DefaultTopic, producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 1)

	record := producer.writes[0].messages[0]
	require.Equal(t, groupID, string(record.Key))
	require.Equal(t, byte(0), record.Value[0])
	require.Equal(t, uint32(42), binary.BigEndian.Uint32(record.Value[1:5]))
	require.Contains(t, record.Headers, kafka.Header{Key: HeaderEventType, Value: []byte(events.TypeExerciseLogged)})
	require.Contains(t, record.Headers, kafka.Header{Key: HeaderSchemaSubject, Value: []byte(SubjectFor(DefaultTopic))})

	var payload events.ExerciseLogged
	require.NoError(t, json.Unmarshal(record.Value[5:], &payload))
	require.Equal(t, "u1_2025-10-13", payload.RecordID)

	afterDelivered := testutil.ToFloat64(deliveredCounter)
	require.InDelta(t, beforeDelivered+1, afterDelivered, 0.0001)
	require.Greater(t, histogramSampleCount(t), beforeHistogram)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)
}

func TestWriterKeepsRepeatedAggregateEmissions(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	// Same record id logged again after leaving G and joining H.
	for _, groupID := range []string{"group-g", "group-h"} {
		require.NoError(t, seedEvent(t, ctx, pool, events.ExerciseLogged{
			RecordID: "alice_2025-10-13", UserID: "alice", GroupID: groupID,
			ExerciseType: "upper", Date: "2025-10-13", OccurredAt: time.Now().UTC(),
		}))
	}
	// Goal reached at 3, raised to 5, reached again in the same week.
	for _, goal := range []int{3, 5} {
		require.NoError(t, seedEvent(t, ctx, pool, events.GoalAchieved{
			UserID: "alice", GroupID: "group-h", WeekStart: "2025-10-13",
			ExerciseCount: goal, Goal: goal, OccurredAt: time.Now().UTC(),
		}))
	}

	rows, err := pool.Query(ctx, `SELECT event_type, partition_key FROM outbox ORDER BY event_id`)
	require.NoError(t, err)
	type row struct{ eventType, key string }
	stored, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (row, error) {
		var out row
		return out, r.Scan(&out.eventType, &out.key)
	})
	require.NoError(t, err)
	require.Equal(t, []row{
		{events.TypeExerciseLogged, "group-g"},
		{events.TypeExerciseLogged, "group-h"},
		{events.TypeGoalAchieved, "group-h"},
		{events.TypeGoalAchieved, "group-h"},
	}, stored)

	producer := &stubProducer{}
	dispatcher := NewDispatcher(pool, producer, &stubRegistry{id: 3}, DispatcherConfig{BatchSize: 10})
	require.NoError(t, dispatcher.processBatch(ctx))
	require.Len(t, producer.writes, 1)
	require.Len(t, producer.writes[0].messages, 4)
}

func TestDispatcherRoutesMessagesToDLQOnFailure(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	require.NoError(t, seedEvent(t, ctx, pool, events.GoalAchieved{
		UserID: "u1", GroupID: uuid.NewString(), WeekStart: "2025-10-13",
		ExerciseCount: 3, Goal: 3, OccurredAt: time.Now().UTC(),
	}))

	producer := &stubProducer{err: errors.New("kafka write failed")}
	registry := &stubRegistry{id: 7}
	dispatcher := NewDispatcher(pool, producer, registry, DispatcherConfig{PollInterval: 10 * time.Millisecond, BatchSize: 5})

	beforeFailed := testutil.ToFloat64(failedCounter)
	beforeDLQ := testutil.ToFloat64(dlqCounter.WithLabelValues(DefaultTopic))

	require.NoError(t, dispatcher.processBatch(ctx))

	require.InDelta(t, beforeFailed+1, testutil.ToFloat64(failedCounter), 0.0001)
	require.InDelta(t, beforeDLQ+1, testutil.ToFloat64(dlqCounter.WithLabelValues(DefaultTopic)), 0.0001)

	var dlqCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE event_type = $1`, events.TypeGoalAchieved).Scan(&dlqCount))
	require.Equal(t, 1, dlqCount)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)
}

func TestDLQReplayRequeuesIntoOutbox(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	require.NoError(t, seedEvent(t, ctx, pool, events.ExerciseLogged{
		RecordID: "u2_2025-10-14", UserID: "u2", GroupID: uuid.NewString(),
		ExerciseType: "cardio", Date: "2025-10-14", OccurredAt: time.Now().UTC(),
	}))

	registry := &stubRegistry{id: 100}
	failing := NewDispatcher(pool, &stubProducer{err: errors.New("upstream kafka unavailable")}, registry, DispatcherConfig{PollInterval: 5 * time.Millisecond, BatchSize: 10})
	require.NoError(t, failing.processBatch(ctx))

	beforeRequeued := testutil.ToFloat64(dlqEntriesCounter.WithLabelValues(DefaultTopic, events.TypeExerciseLogged, dlqRequeued))

	manager := NewDLQManager(pool, 5, time.Second)
	replayed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, replayed)
	require.InDelta(t, beforeRequeued+1, testutil.ToFloat64(dlqEntriesCounter.WithLabelValues(DefaultTopic, events.TypeExerciseLogged, dlqRequeued)), 0.0001)
	require.InDelta(t, 0, testutil.ToFloat64(dlqBacklogGauge), 0.0001)

	producer := &stubProducer{}
	healthy := NewDispatcher(pool, producer, registry, DispatcherConfig{PollInterval: 5 * time.Millisecond, BatchSize: 10})
	require.NoError(t, healthy.processBatch(ctx))
	require.Len(t, producer.writes, 1)
	require.Len(t, producer.writes[0].messages, 1)
}

func TestDLQQuarantinesExhaustedEntries(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	_, err := pool.Exec(ctx,
		`INSERT INTO outbox_dlq (event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count, next_retry_at)
         VALUES (1, $1, $2, '{}', 'boom', 'exercise_record', 'r1', $3, 'g1', 5, NOW())`,
		events.TypeExerciseLogged, DefaultTopic, SubjectFor(DefaultTopic))
	require.NoError(t, err)

	manager := NewDLQManager(pool, 5, time.Second)
	replayed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, replayed)

	var quarantined int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NOT NULL`).Scan(&quarantined))
	require.Equal(t, 1, quarantined)
}

func TestDispatcherCachesSchemaIDsAcrossBatch(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	groupID := uuid.NewString()
	for _, date := range []string{"2025-10-13", "2025-10-14"} {
		require.NoError(t, seedEvent(t, ctx, pool, events.ExerciseLogged{
			RecordID: "u1_" + date, UserID: "u1", GroupID: groupID,
			ExerciseType: "lower", Date: date, OccurredAt: time.Now().UTC(),
		}))
	}

	producer := &stubProducer{}
	registry := &stubRegistry{id: 21}
	dispatcher := NewDispatcher(pool, producer, registry, DispatcherConfig{PollInterval: 10 * time.Millisecond, BatchSize: 5})

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Len(t, producer.writes[0].messages, 2)
	require.Len(t, registry.calls, 1, "schema registry should be invoked once due to cache")
}

func TestDispatcherUnknownSchemaMovesEventsToDLQ(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	var eventID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
         VALUES ('exercise_record', 'r1', 'exercise.unknown', $1, $2, 'g1', '{}')
         RETURNING event_id`,
		DefaultTopic, SubjectFor(DefaultTopic),
	).Scan(&eventID))

	producer := &stubProducer{}
	registry := &stubRegistry{id: 99}
	dispatcher := NewDispatcher(pool, producer, registry, DispatcherConfig{PollInterval: 10 * time.Millisecond, BatchSize: 5})

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Empty(t, producer.writes, "unknown schema should skip kafka writes")
	require.Empty(t, registry.calls, "schema registry should not be invoked when metadata missing")

	var reason string
	require.NoError(t, pool.QueryRow(ctx, `SELECT reason FROM outbox_dlq WHERE event_id = $1`, eventID).Scan(&reason))
	require.Contains(t, reason, "no schema metadata for event_type=exercise.unknown")
}

func TestDispatcherDeliversValidEventsAlongsideRejectedOnes(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	_, err := pool.Exec(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
         VALUES ('exercise_record', 'r0', 'exercise.unknown', $1, $2, 'g1', '{}')`,
		DefaultTopic, SubjectFor(DefaultTopic))
	require.NoError(t, err)
	require.NoError(t, seedEvent(t, ctx, pool, events.ExerciseLogged{
		RecordID: "u3_2025-10-15", UserID: "u3", GroupID: "g1",
		ExerciseType: "cardio", Date: "2025-10-15", OccurredAt: time.Now().UTC(),
	}))

	producer := &stubProducer{}
	dispatcher := NewDispatcher(pool, producer, &stubRegistry{id: 5}, DispatcherConfig{BatchSize: 10})
	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Len(t, producer.writes[0].messages, 1)

	var dlqCount, pending int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&dlqCount))
	require.Equal(t, 1, dlqCount)
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&pending))
	require.Zero(t, pending)
}

type stubProducer struct {
	mu     sync.Mutex
	err    error
	writes []writtenBatch
}

type writtenBatch struct {
	topic    string
	messages []kafka.Message
}

func (s *stubProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	copied := make([]kafka.Message, len(msgs))
	copy(copied, msgs)

	s.writes = append(s.writes, writtenBatch{
		topic:    topic,
		messages: copied,
	})
	return nil
}

type stubRegistry struct {
	mu    sync.Mutex
	id    int
	err   error
	calls []schemaCall
}

type schemaCall struct {
	subject string
	schema  string
}

func (s *stubRegistry) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, schemaCall{subject: subject, schema: schema})
	if s.err != nil {
		return 0, s.err
	}
	if s.id == 0 {
		s.id = 1
	}
	return s.id, nil
}

// setupPostgres starts a throwaway database with the migrations applied as
// init scripts.
func setupPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	migrations, err := filepath.Glob(filepath.Join(filepath.Dir(file), "../../db/postgres/migrations/*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	sort.Strings(migrations)

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("exercisemate"),
		postgrescontainer.WithUsername("mate"),
		postgrescontainer.WithPassword("mate"),
		postgrescontainer.WithInitScripts(migrations...),
		postgrescontainer.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}

func seedEvent(t *testing.T, ctx context.Context, pool *pgxpool.Pool, event events.Event) error {
	t.Helper()
	return NewWriter(pool, DefaultTopic).Emit(ctx, event)
}
