package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sbt-vault/engine/internal/models"
	appErr "github.com/sbt-vault/engine/pkg/errors"
	"gorm.io/gorm"
)

type MintRequestRepository interface {
	BaseRepository[models.MintRequest]
	GetActiveByUser(ctx context.Context, userID uuid.UUID, dest *models.MintRequest) error
	GetLatestVerifiedByUser(ctx context.Context, userID uuid.UUID, dest *models.MintRequest) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.MintRequest, error)
	ListByStatus(ctx context.Context, status string) ([]models.MintRequest, error)
	VerifiedUserIDs(ctx context.Context) ([]uuid.UUID, error)
	Transition(ctx context.Context, id uint64, from, to string, artifactID *int) error
	CountByStatus(ctx context.Context, status string) (int64, error)
}

type mintRequestRepository struct {
	BaseRepository[models.MintRequest]
	db *gorm.DB
}

func NewMintRequestRepository(db *gorm.DB) MintRequestRepository {
	return &mintRequestRepository{BaseRepository: NewBaseRepository[models.MintRequest](db, "mint request"), db: db}
}

// GetActiveByUser returns the newest request still pending or verified.
func (r *mintRequestRepository) GetActiveByUser(ctx context.Context, userID uuid.UUID, dest *models.MintRequest) error {
	return r.first(ctx, dest, "no active mint request",
		"user_id = ? AND status IN ?", userID, models.ActiveMintStatuses)
}

func (r *mintRequestRepository) GetLatestVerifiedByUser(ctx context.Context, userID uuid.UUID, dest *models.MintRequest) error {
	return r.first(ctx, dest, "no verified mint request",
		"user_id = ? AND status = ?", userID, models.MintStatusVerified)
}

func (r *mintRequestRepository) first(ctx context.Context, dest *models.MintRequest, notFound string, query string, args ...any) error {
	err := r.db.WithContext(ctx).Where(query, args...).Order("created_at DESC, id DESC").First(dest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.New(appErr.CodeNotFound, notFound)
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get mint request failed")
	}
	return nil
}

func (r *mintRequestRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.MintRequest, error) {
	var out []models.MintRequest
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list mint requests failed")
	}
	return out, nil
}

// ListByStatus returns requests newest first; an empty status lists everything.
func (r *mintRequestRepository) ListByStatus(ctx context.Context, status string) ([]models.MintRequest, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if status != "" && status != "all" {
		q = q.Where("status = ?", status)
	}
	var out []models.MintRequest
	if err := q.Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list mint requests failed")
	}
	return out, nil
}

func (r *mintRequestRepository) VerifiedUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).Model(&models.MintRequest{}).
		Where("status = ?", models.MintStatusVerified).
		Distinct("user_id").Pluck("user_id", &ids).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list verified requesters failed")
	}
	return ids, nil
}

// Transition moves a request from one status to another only if it is still in
// the expected state. A miss is reported as not_found or invalid_transition.
func (r *mintRequestRepository) Transition(ctx context.Context, id uint64, from, to string, artifactID *int) error {
	updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	if artifactID != nil {
		updates["sbt_id"] = *artifactID
	}
	res := r.db.WithContext(ctx).Model(&models.MintRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "update mint request status failed")
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var current models.MintRequest
	if err := r.GetByID(ctx, id, &current); err != nil {
		return err
	}
	return appErr.New(appErr.CodeInvalidTransition, "mint request is "+current.Status+", expected "+from).
		WithMeta("status", current.Status)
}

func (r *mintRequestRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.MintRequest{}).Where("status = ?", status).Count(&n).Error; err != nil {
		return 0, appErr.Wrap(err, appErr.CodeInternal, "count mint requests failed")
	}
	return n, nil
}
