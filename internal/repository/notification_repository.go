package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/sbt-vault/engine/internal/models"
	appErr "github.com/sbt-vault/engine/pkg/errors"
	"gorm.io/gorm"
)

type NotificationRepository interface {
	BaseRepository[models.Notification]
	ListByUser(ctx context.Context, userID uuid.UUID, typ string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID, typ string) (int64, error)
	CountUnread(ctx context.Context, userID uuid.UUID, typ string) (int64, error)
	CreateBatch(ctx context.Context, items []models.Notification) error
}

type notificationRepository struct {
	BaseRepository[models.Notification]
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{BaseRepository: NewBaseRepository[models.Notification](db, "notification"), db: db}
}

func (r *notificationRepository) scoped(ctx context.Context, userID uuid.UUID, typ string) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
	if typ != "" {
		q = q.Where("type = ?", typ)
	}
	return q
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID uuid.UUID, typ string, limit int) ([]models.Notification, error) {
	q := r.scoped(ctx, userID, typ).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Notification
	if err := q.Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list notifications failed")
	}
	return out, nil
}

// MarkRead is monotonic: an already-read row is left alone and reported as success.
// Rows belonging to another user are indistinguishable from missing ones.
func (r *notificationRepository) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	res := r.scoped(ctx, userID, "").Where("id = ? AND is_read = ?", id, false).Update("is_read", true)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "mark notification read failed")
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var n int64
	if err := r.scoped(ctx, userID, "").Where("id = ?", id).Count(&n).Error; err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "check notification failed")
	}
	if n == 0 {
		return appErr.New(appErr.CodeNotFound, "notification not found")
	}
	return nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID uuid.UUID, typ string) (int64, error) {
	res := r.scoped(ctx, userID, typ).Where("is_read = ?", false).Update("is_read", true)
	if res.Error != nil {
		return 0, appErr.Wrap(res.Error, appErr.CodeInternal, "mark notifications read failed")
	}
	return res.RowsAffected, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID uuid.UUID, typ string) (int64, error) {
	var n int64
	if err := r.scoped(ctx, userID, typ).Where("is_read = ?", false).Count(&n).Error; err != nil {
		return 0, appErr.Wrap(err, appErr.CodeInternal, "count unread notifications failed")
	}
	return n, nil
}

func (r *notificationRepository) CreateBatch(ctx context.Context, items []models.Notification) error {
	if len(items) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(items, 500).Error; err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "create notifications failed")
	}
	return nil
}
