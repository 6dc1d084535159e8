package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sbt-vault/engine/internal/models"
	"github.com/sbt-vault/engine/internal/realtime"
	"github.com/sbt-vault/engine/internal/repository"
	"github.com/sbt-vault/engine/internal/storage"
	appErr "github.com/sbt-vault/engine/pkg/errors"
	"github.com/sbt-vault/engine/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TaskAnnouncementBroadcast fans a broadcast out to every registered user.
const TaskAnnouncementBroadcast = "announcement:broadcast"

// BroadcastPayload is the task payload for TaskAnnouncementBroadcast.
type BroadcastPayload struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	ImageURL string `json:"image_url,omitempty"`
}

// NewBroadcastTask encodes p as a TaskAnnouncementBroadcast task.
func NewBroadcastTask(p BroadcastPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "encode broadcast payload failed")
	}
	return asynq.NewTask(TaskAnnouncementBroadcast, b), nil
}

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type BroadcastInput struct {
	Title   string
	Message string
	Image   []byte
}

type BroadcastResult struct {
	Queued     bool   `json:"queued"`
	TaskID     string `json:"task_id,omitempty"`
	Recipients int    `json:"recipients"`
	ImageURL   string `json:"image_url,omitempty"`
}

type NotificationService interface {
	Notify(ctx context.Context, userID uuid.UUID, title, message, imageURL string) (*models.Notification, error)
	Broadcast(ctx context.Context, actorID uuid.UUID, in BroadcastInput) (*BroadcastResult, error)
	FanOut(ctx context.Context, p BroadcastPayload) (int, error)
	List(ctx context.Context, userID uuid.UUID, typ string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID, typ string) (int64, error)
	UnreadCount(ctx context.Context, userID uuid.UUID, typ string) (int64, error)
}

type notificationService struct {
	db          *gorm.DB
	profiles    repository.ProfileRepository
	repo        repository.NotificationRepository
	store       storage.Store
	imageBucket string
	queue       TaskEnqueuer
	events      realtime.Publisher
}

// NewNotificationService wires the fan-out. A nil queue runs broadcasts inline.
func NewNotificationService(db *gorm.DB, store storage.Store, imageBucket string, queue TaskEnqueuer, events realtime.Publisher) NotificationService {
	return &notificationService{
		db:          db,
		profiles:    repository.NewProfileRepository(db),
		repo:        repository.NewNotificationRepository(db),
		store:       store,
		imageBucket: imageBucket,
		queue:       queue,
		events:      publisherOrNoop(events),
	}
}

var _ NotificationService = (*notificationService)(nil)

func (s *notificationService) Notify(ctx context.Context, userID uuid.UUID, title, message, imageURL string) (*models.Notification, error) {
	logger.L().Info("notify user", zap.String("user_id", userID.String()), zap.String("title", title))
	n := &models.Notification{UserID: userID, Title: title, Message: message, Type: models.NotificationPersonal, ImageURL: imageURL}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	s.events.Publish(ctx, notificationEvent(n))
	return n, nil
}

func (s *notificationService) Broadcast(ctx context.Context, actorID uuid.UUID, in BroadcastInput) (*BroadcastResult, error) {
	logger.L().Info("broadcast requested", zap.String("actor_id", actorID.String()))
	if err := requireAdmin(ctx, s.profiles, actorID); err != nil {
		return nil, err
	}

	payload := BroadcastPayload{Title: strings.TrimSpace(in.Title), Message: strings.TrimSpace(in.Message)}
	fields := map[string]string{}
	if payload.Title == "" {
		fields["title"] = "title is required"
	}
	if payload.Message == "" {
		fields["message"] = "message is required"
	}
	if len(fields) > 0 {
		return nil, appErr.Validation(fields)
	}

	if len(in.Image) > 0 {
		ct, ext, err := storage.DetectImage(in.Image)
		if err != nil {
			return nil, err
		}
		obj, err := storage.UploadWithFallback(ctx, s.store, []string{s.imageBucket}, storage.ObjectName(actorID.String(), ext), in.Image, ct)
		if err != nil {
			return nil, err
		}
		payload.ImageURL = obj.URL
	}

	if s.queue != nil {
		task, err := NewBroadcastTask(payload)
		if err != nil {
			return nil, err
		}
		info, err := s.queue.EnqueueContext(ctx, task, asynq.MaxRetry(5))
		if err != nil {
			logger.L().Error("enqueue broadcast task failed", zap.Error(err))
			return nil, appErr.Wrap(err, appErr.CodeUnavailable, "enqueue broadcast failed")
		}
		logger.L().Info("broadcast enqueued", zap.String("task_id", info.ID))
		return &BroadcastResult{Queued: true, TaskID: info.ID, ImageURL: payload.ImageURL}, nil
	}

	n, err := s.FanOut(ctx, payload)
	if err != nil {
		return nil, err
	}
	return &BroadcastResult{Recipients: n, ImageURL: payload.ImageURL}, nil
}

// FanOut writes one broadcast row per registered user in a single transaction.
func (s *notificationService) FanOut(ctx context.Context, p BroadcastPayload) (int, error) {
	var rows []models.Notification
	err := withTx(ctx, s.db, func(tx *gorm.DB) error {
		ids, err := repository.NewProfileRepository(tx).ListIDs(ctx)
		if err != nil {
			return err
		}
		rows = make([]models.Notification, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, models.Notification{
				UserID:   id,
				Title:    p.Title,
				Message:  p.Message,
				Type:     models.NotificationBroadcast,
				ImageURL: p.ImageURL,
			})
		}
		return repository.NewNotificationRepository(tx).CreateBatch(ctx, rows)
	})
	if err != nil {
		logger.L().Error("broadcast fan-out failed", zap.Error(err))
		return 0, err
	}

	events := make([]realtime.Event, 0, len(rows))
	for i := range rows {
		events = append(events, notificationEvent(&rows[i]))
	}
	s.events.Publish(ctx, events...)
	logger.L().Info("broadcast delivered", zap.Int("recipients", len(rows)))
	return len(rows), nil
}

func (s *notificationService) List(ctx context.Context, userID uuid.UUID, typ string, limit int) ([]models.Notification, error) {
	if err := checkNotificationType(typ); err != nil {
		return nil, err
	}
	return s.repo.ListByUser(ctx, userID, typ, limit)
}

func (s *notificationService) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	logger.L().Info("mark notification read", zap.String("user_id", userID.String()), zap.String("notification_id", id.String()))
	return s.repo.MarkRead(ctx, userID, id)
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID uuid.UUID, typ string) (int64, error) {
	if err := checkNotificationType(typ); err != nil {
		return 0, err
	}
	logger.L().Info("mark all notifications read", zap.String("user_id", userID.String()), zap.String("type", typ))
	return s.repo.MarkAllRead(ctx, userID, typ)
}

func (s *notificationService) UnreadCount(ctx context.Context, userID uuid.UUID, typ string) (int64, error) {
	if err := checkNotificationType(typ); err != nil {
		return 0, err
	}
	return s.repo.CountUnread(ctx, userID, typ)
}

func checkNotificationType(typ string) error {
	switch typ {
	case "", models.NotificationPersonal, models.NotificationBroadcast:
		return nil
	}
	return appErr.Validation(map[string]string{"type": "type must be personal or broadcast"})
}
