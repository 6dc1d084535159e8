package repository

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sbt-vault/engine/internal/models"
	"github.com/sbt-vault/engine/pkg/database"
	appErr "github.com/sbt-vault/engine/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ArtifactFilter narrows a collection listing.
type ArtifactFilter struct {
	Status string // "", "all", "available" or "minted"
	Query  string
	Limit  int
	Offset int
}

type ArtifactRepository interface {
	BaseRepository[models.Artifact]
	List(ctx context.Context, f ArtifactFilter) ([]models.Artifact, int64, error)
	GetByOwner(ctx context.Context, ownerID uuid.UUID, dest *models.Artifact) error
	OwnsAny(ctx context.Context, ownerID uuid.UUID) (bool, error)
	ClaimAvailable(ctx context.Context, id int, ownerID uuid.UUID, at time.Time) error
	CountByStatus(ctx context.Context) (map[string]int64, error)
	Seed(ctx context.Context, artifacts []models.Artifact) (int64, error)
}

type artifactRepository struct {
	BaseRepository[models.Artifact]
	db *gorm.DB
}

func NewArtifactRepository(db *gorm.DB) ArtifactRepository {
	return &artifactRepository{BaseRepository: NewBaseRepository[models.Artifact](db, "artifact"), db: db}
}

func (r *artifactRepository) List(ctx context.Context, f ArtifactFilter) ([]models.Artifact, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Artifact{})
	if f.Status != "" && f.Status != "all" {
		q = q.Where("status = ?", f.Status)
	}
	if term := strings.TrimSpace(f.Query); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		if id, err := strconv.Atoi(term); err == nil {
			q = q.Where("LOWER(name) LIKE ? OR id = ?", like, id)
		} else {
			q = q.Where("LOWER(name) LIKE ?", like)
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, appErr.Wrap(err, appErr.CodeInternal, "count artifacts failed")
	}

	var out []models.Artifact
	q = q.Order("id ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, 0, appErr.Wrap(err, appErr.CodeInternal, "list artifacts failed")
	}
	return out, total, nil
}

func (r *artifactRepository) GetByOwner(ctx context.Context, ownerID uuid.UUID, dest *models.Artifact) error {
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(dest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.New(appErr.CodeNotFound, "user owns no artifact")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get artifact by owner failed")
	}
	return nil
}

func (r *artifactRepository) OwnsAny(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Artifact{}).Where("owner_id = ?", ownerID).Count(&n).Error; err != nil {
		return false, appErr.Wrap(err, appErr.CodeInternal, "check artifact ownership failed")
	}
	return n > 0, nil
}

// ClaimAvailable flips an available artifact to minted in a single conditional
// write. When nothing changed it reports not_found or already_minted.
func (r *artifactRepository) ClaimAvailable(ctx context.Context, id int, ownerID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Artifact{}).
		Where("id = ? AND status = ?", id, models.ArtifactAvailable).
		Updates(map[string]any{
			"status":     models.ArtifactMinted,
			"owner_id":   ownerID,
			"minted_at":  at,
			"updated_at": at,
		})
	if res.Error != nil {
		if database.IsUniqueViolation(res.Error) {
			return appErr.Wrap(res.Error, appErr.CodeConflict, "user already owns an artifact")
		}
		return appErr.Wrap(res.Error, appErr.CodeInternal, "claim artifact failed")
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var existing models.Artifact
	if err := r.GetByID(ctx, id, &existing); err != nil {
		return err
	}
	return appErr.New(appErr.CodeAlreadyMinted, "artifact already minted").WithMeta("artifact_id", id)
}

func (r *artifactRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	if err := r.db.WithContext(ctx).Model(&models.Artifact{}).
		Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "count artifacts by status failed")
	}
	out := map[string]int64{models.ArtifactAvailable: 0, models.ArtifactMinted: 0}
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

// Seed inserts the given artifacts, leaving existing ids untouched.
func (r *artifactRepository) Seed(ctx context.Context, artifacts []models.Artifact) (int64, error) {
	if len(artifacts) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(artifacts, 200)
	if res.Error != nil {
		return 0, appErr.Wrap(res.Error, appErr.CodeInternal, "seed artifacts failed")
	}
	return res.RowsAffected, nil
}
