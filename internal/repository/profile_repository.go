package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sbt-vault/engine/internal/models"
	appErr "github.com/sbt-vault/engine/pkg/errors"
	"gorm.io/gorm"
)

type ProfileRepository interface {
	BaseRepository[models.Profile]
	GetByEmail(ctx context.Context, email string, dest *models.Profile) error
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error)
	HasSignupFrom(ctx context.Context, address, fingerprint string) (bool, error)
	List(ctx context.Context) ([]models.Profile, error)
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
	Count(ctx context.Context) (int64, error)
	CreatedBefore(ctx context.Context, t time.Time) (int64, error)
	SetRole(ctx context.Context, email, role string) error
	SetAvatar(ctx context.Context, id uuid.UUID, url string) error
}

type profileRepository struct {
	BaseRepository[models.Profile]
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{BaseRepository: NewBaseRepository[models.Profile](db, "profile"), db: db}
}

func (r *profileRepository) GetByEmail(ctx context.Context, email string, dest *models.Profile) error {
	if err := r.db.WithContext(ctx).Where("email = ?", strings.ToLower(email)).First(dest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.New(appErr.CodeNotFound, "profile not found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get profile by email failed")
	}
	return nil
}

func (r *profileRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []models.Profile
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("full_name ASC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "get profiles failed")
	}
	return out, nil
}

// HasSignupFrom reports whether an account was already created from the same
// network address or device fingerprint. Blank values and the unknown
// fingerprint sentinel never match.
func (r *profileRepository) HasSignupFrom(ctx context.Context, address, fingerprint string) (bool, error) {
	var conds []string
	var args []any
	if address != "" {
		conds = append(conds, "network_address = ?")
		args = append(args, address)
	}
	if fingerprint != "" && fingerprint != models.UnknownFingerprint {
		conds = append(conds, "device_fingerprint = ?")
		args = append(args, fingerprint)
	}
	if len(conds) == 0 {
		return false, nil
	}
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Profile{}).
		Where(strings.Join(conds, " OR "), args...).Count(&n).Error; err != nil {
		return false, appErr.Wrap(err, appErr.CodeInternal, "check signup origin failed")
	}
	return n > 0, nil
}

func (r *profileRepository) List(ctx context.Context) ([]models.Profile, error) {
	var out []models.Profile
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list profiles failed")
	}
	return out, nil
}

func (r *profileRepository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).Model(&models.Profile{}).Pluck("id", &ids).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list profile ids failed")
	}
	return ids, nil
}

func (r *profileRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Profile{}).Count(&n).Error; err != nil {
		return 0, appErr.Wrap(err, appErr.CodeInternal, "count profiles failed")
	}
	return n, nil
}

func (r *profileRepository) CreatedBefore(ctx context.Context, t time.Time) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Profile{}).Where("created_at < ?", t).Count(&n).Error; err != nil {
		return 0, appErr.Wrap(err, appErr.CodeInternal, "count profiles failed")
	}
	return n, nil
}

func (r *profileRepository) SetRole(ctx context.Context, email, role string) error {
	res := r.db.WithContext(ctx).Model(&models.Profile{}).Where("email = ?", strings.ToLower(email)).Update("role", role)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "update role failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "profile not found")
	}
	return nil
}

func (r *profileRepository) SetAvatar(ctx context.Context, id uuid.UUID, url string) error {
	res := r.db.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", id).Update("avatar_url", url)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "update avatar failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "profile not found")
	}
	return nil
}
