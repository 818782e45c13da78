package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/YUJAEYUN/exercisemate/internal/config"
	"github.com/YUJAEYUN/exercisemate/internal/consumer"
	"github.com/YUJAEYUN/exercisemate/internal/domain"
	"github.com/YUJAEYUN/exercisemate/internal/persistence/memory"
)

func TestNewWithoutPostgresRunsInProcess(t *testing.T) {
	cfg := config.Config{Timezone: "UTC", EventDelivery: config.DeliveryOutbox, NotificationLink: "/dashboard"}

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	require.Nil(t, a.Pool)
	require.IsType(t, &memory.Store{}, a.Repo)
	require.IsType(t, &consumer.DirectSink{}, a.Sink)

	ctx := context.Background()
	for _, id := range []string{"alice", "bob"} {
		_, _, err := a.Service.EnsureUser(ctx, domain.EnsureUserInput{UserID: id, DisplayName: id})
		require.NoError(t, err)
	}
	group, err := a.Service.CreateGroup(ctx, domain.CreateGroupInput{OwnerID: "alice", Name: "crew"})
	require.NoError(t, err)
	_, err = a.Service.JoinByInviteCode(ctx, "bob", group.InviteCode)
	require.NoError(t, err)

	_, err = a.Service.LogExercise(ctx, domain.LogExerciseInput{UserID: "alice", GroupID: group.ID, Type: domain.ExerciseUpper})
	require.NoError(t, err)
}

func TestNewRejectsUnknownTimezone(t *testing.T) {
	_, err := New(context.Background(), config.Config{Timezone: "Nowhere/Land"})
	require.Error(t, err)
}
