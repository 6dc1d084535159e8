package tasks

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sbt-vault/engine/internal/models"
	"github.com/sbt-vault/engine/internal/services"
	"github.com/sbt-vault/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests (required by tasks)
	_, err := logger.Init("info", "json")
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

type mockNotificationService struct {
	mock.Mock
}

func (m *mockNotificationService) Notify(ctx context.Context, userID uuid.UUID, title, message, imageURL string) (*models.Notification, error) {
	args := m.Called(ctx, userID, title, message, imageURL)
	if v := args.Get(0); v != nil {
		return v.(*models.Notification), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockNotificationService) Broadcast(ctx context.Context, actorID uuid.UUID, in services.BroadcastInput) (*services.BroadcastResult, error) {
	args := m.Called(ctx, actorID, in)
	if v := args.Get(0); v != nil {
		return v.(*services.BroadcastResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockNotificationService) FanOut(ctx context.Context, p services.BroadcastPayload) (int, error) {
	args := m.Called(ctx, p)
	return args.Int(0), args.Error(1)
}

func (m *mockNotificationService) List(ctx context.Context, userID uuid.UUID, typ string, limit int) ([]models.Notification, error) {
	args := m.Called(ctx, userID, typ, limit)
	if v := args.Get(0); v != nil {
		return v.([]models.Notification), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockNotificationService) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	args := m.Called(ctx, userID, id)
	return args.Error(0)
}

func (m *mockNotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID, typ string) (int64, error) {
	args := m.Called(ctx, userID, typ)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockNotificationService) UnreadCount(ctx context.Context, userID uuid.UUID, typ string) (int64, error) {
	args := m.Called(ctx, userID, typ)
	return args.Get(0).(int64), args.Error(1)
}

func newTask(t *testing.T, p services.BroadcastPayload) *asynq.Task {
	t.Helper()
	task, err := services.NewBroadcastTask(p)
	require.NoError(t, err)
	return task
}

func TestBroadcastTaskHandler_HandleBroadcast(t *testing.T) {
	payload := services.BroadcastPayload{Title: "Mint opens", Message: "Noon today", ImageURL: "http://x/a.png"}

	t.Run("successful fan-out", func(t *testing.T) {
		svc := &mockNotificationService{}
		svc.On("FanOut", mock.Anything, payload).Return(42, nil).Once()

		err := NewBroadcastTaskHandler(svc).HandleBroadcast(context.Background(), newTask(t, payload))
		require.NoError(t, err)
		svc.AssertExpectations(t)
	})

	t.Run("fan-out failure is retried", func(t *testing.T) {
		svc := &mockNotificationService{}
		svc.On("FanOut", mock.Anything, payload).Return(0, errors.New("db down")).Once()

		err := NewBroadcastTaskHandler(svc).HandleBroadcast(context.Background(), newTask(t, payload))
		require.Error(t, err)
		require.False(t, errors.Is(err, asynq.SkipRetry))
		svc.AssertExpectations(t)
	})

	t.Run("malformed payload is not retried", func(t *testing.T) {
		svc := &mockNotificationService{}
		err := NewBroadcastTaskHandler(svc).HandleBroadcast(context.Background(),
			asynq.NewTask(services.TaskAnnouncementBroadcast, []byte("{")))
		require.ErrorIs(t, err, asynq.SkipRetry)

		err = NewBroadcastTaskHandler(svc).HandleBroadcast(context.Background(), newTask(t, services.BroadcastPayload{}))
		require.ErrorIs(t, err, asynq.SkipRetry)
		svc.AssertNotCalled(t, "FanOut", mock.Anything, mock.Anything)
	})
}
