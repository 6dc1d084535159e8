package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sbt-vault/engine/internal/models"
	appErr "github.com/sbt-vault/engine/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task)
	if v := args.Get(0); v != nil {
		return v.(*asynq.TaskInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestBroadcastInlineReachesEveryUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "a@example.com"), f.user(t, "b@example.com")
	svc := NewNotificationService(f.db, f.store, "announcements", nil, f.events)

	res, err := svc.Broadcast(ctx, f.admin.ID, BroadcastInput{Title: "Mint opens", Message: "Today at noon", Image: pngProof})
	require.NoError(t, err)
	require.False(t, res.Queued)
	require.Equal(t, 3, res.Recipients, "admin is a registered user too")
	require.Contains(t, res.ImageURL, "/announcements/")

	for _, u := range []uuid.UUID{a.ID, b.ID, f.admin.ID} {
		items, err := svc.List(ctx, u, models.NotificationBroadcast, 0)
		require.NoError(t, err)
		require.Len(t, items, 1)
		require.Equal(t, "Mint opens", items[0].Title)
		require.Equal(t, res.ImageURL, items[0].ImageURL)
	}
	require.Len(t, f.events.tables(), 3)
}

func TestBroadcastEnqueuesWhenQueueConfigured(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "a@example.com")

	q := &mockEnqueuer{}
	q.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		var p BroadcastPayload
		return task.Type() == TaskAnnouncementBroadcast &&
			json.Unmarshal(task.Payload(), &p) == nil && p.Title == "Hello"
	})).Return(&asynq.TaskInfo{ID: "task-1"}, nil).Once()

	svc := NewNotificationService(f.db, f.store, "announcements", q, f.events)
	res, err := svc.Broadcast(ctx, f.admin.ID, BroadcastInput{Title: "Hello", Message: "World"})
	require.NoError(t, err)
	require.True(t, res.Queued)
	require.Equal(t, "task-1", res.TaskID)
	q.AssertExpectations(t)

	items, err := svc.List(ctx, f.admin.ID, models.NotificationBroadcast, 0)
	require.NoError(t, err)
	require.Empty(t, items, "fan-out happens in the worker")
}

func TestBroadcastEnqueueFailure(t *testing.T) {
	f := newFixture(t)
	q := &mockEnqueuer{}
	q.On("EnqueueContext", mock.Anything, mock.Anything).Return(nil, errors.New("redis down")).Once()

	svc := NewNotificationService(f.db, f.store, "announcements", q, f.events)
	_, err := svc.Broadcast(context.Background(), f.admin.ID, BroadcastInput{Title: "Hello", Message: "World"})
	require.True(t, appErr.IsCode(err, appErr.CodeUnavailable))
}

func TestBroadcastGuards(t *testing.T) {
	f := newFixture(t)
	user := f.user(t, "a@example.com")
	svc := NewNotificationService(f.db, f.store, "announcements", nil, f.events)
	ctx := context.Background()

	_, err := svc.Broadcast(ctx, user.ID, BroadcastInput{Title: "x", Message: "y"})
	require.True(t, appErr.IsCode(err, appErr.CodeForbidden))

	_, err = svc.Broadcast(ctx, f.admin.ID, BroadcastInput{Title: " "})
	require.True(t, appErr.IsCode(err, appErr.CodeInvalid))
	require.Len(t, fieldsOf(t, err), 2)
}

func TestNotificationReadFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, other := f.user(t, "a@example.com"), f.user(t, "b@example.com")
	svc := NewNotificationService(f.db, f.store, "announcements", nil, f.events)

	n, err := svc.Notify(ctx, user.ID, "Hi", "There", "")
	require.NoError(t, err)
	_, err = svc.FanOut(ctx, BroadcastPayload{Title: "All", Message: "Hands"})
	require.NoError(t, err)

	count, err := svc.UnreadCount(ctx, user.ID, "")
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	require.True(t, appErr.IsCode(svc.MarkRead(ctx, other.ID, n.ID), appErr.CodeNotFound))
	require.NoError(t, svc.MarkRead(ctx, user.ID, n.ID))
	require.NoError(t, svc.MarkRead(ctx, user.ID, n.ID))

	changed, err := svc.MarkAllRead(ctx, user.ID, models.NotificationBroadcast)
	require.NoError(t, err)
	require.EqualValues(t, 1, changed)

	count, err = svc.UnreadCount(ctx, user.ID, "")
	require.NoError(t, err)
	require.Zero(t, count)

	count, err = svc.UnreadCount(ctx, other.ID, "")
	require.NoError(t, err)
	require.EqualValues(t, 1, count, "other users are unaffected")

	_, err = svc.List(ctx, user.ID, "spam", 0)
	require.True(t, appErr.IsCode(err, appErr.CodeInvalid))
}
