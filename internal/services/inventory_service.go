package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sbt-vault/engine/internal/models"
	"github.com/sbt-vault/engine/internal/realtime"
	"github.com/sbt-vault/engine/internal/repository"
	appErr "github.com/sbt-vault/engine/pkg/errors"
	"github.com/sbt-vault/engine/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	GiftTitle          = "You received a Gift!"
	giftMessageFormat  = "You have been gifted %s by the Admin! Check your Vault."
	defaultPageSize    = 50
	maxPageSize        = 200
	artifactNameFormat = "Signigeria SBT #%03d"
)

type CollectionFilter struct {
	Status   string
	Query    string
	Page     int
	PageSize int
}

type CollectionPage struct {
	Items    []models.Artifact `json:"items"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

type InventoryStats struct {
	Available int64 `json:"available"`
	Minted    int64 `json:"minted"`
	Total     int64 `json:"total"`
}

// AssignmentResult is everything an assignment changed.
type AssignmentResult struct {
	Artifact     models.Artifact     `json:"artifact"`
	Request      *models.MintRequest `json:"request,omitempty"`
	Notification models.Notification `json:"notification"`
}

type InventoryService interface {
	List(ctx context.Context, f CollectionFilter) (*CollectionPage, error)
	Get(ctx context.Context, id int) (*models.Artifact, error)
	Stats(ctx context.Context) (*InventoryStats, error)
	Assign(ctx context.Context, actorID uuid.UUID, artifactID int, userID uuid.UUID) (*AssignmentResult, error)
	Seed(ctx context.Context, total int) (int64, error)
}

type inventoryService struct {
	db        *gorm.DB
	profiles  repository.ProfileRepository
	artifacts repository.ArtifactRepository
	events    realtime.Publisher
	now       func() time.Time
}

func NewInventoryService(db *gorm.DB, events realtime.Publisher) InventoryService {
	return &inventoryService{
		db:        db,
		profiles:  repository.NewProfileRepository(db),
		artifacts: repository.NewArtifactRepository(db),
		events:    publisherOrNoop(events),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ InventoryService = (*inventoryService)(nil)

func (s *inventoryService) List(ctx context.Context, f CollectionFilter) (*CollectionPage, error) {
	switch f.Status {
	case "", "all", models.ArtifactAvailable, models.ArtifactMinted:
	default:
		return nil, appErr.Validation(map[string]string{"status": "status must be all, available or minted"})
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}

	items, total, err := s.artifacts.List(ctx, repository.ArtifactFilter{
		Status: f.Status,
		Query:  f.Query,
		Limit:  f.PageSize,
		Offset: (f.Page - 1) * f.PageSize,
	})
	if err != nil {
		return nil, err
	}
	return &CollectionPage{Items: items, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

func (s *inventoryService) Get(ctx context.Context, id int) (*models.Artifact, error) {
	var a models.Artifact
	if err := s.artifacts.GetByID(ctx, id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *inventoryService) Stats(ctx context.Context) (*InventoryStats, error) {
	counts, err := s.artifacts.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	st := &InventoryStats{Available: counts[models.ArtifactAvailable], Minted: counts[models.ArtifactMinted]}
	for _, n := range counts {
		st.Total += n
	}
	return st, nil
}

// Assign hands an available artifact to a user. The claim, the requester's
// approval and the gift notification commit together or not at all.
func (s *inventoryService) Assign(ctx context.Context, actorID uuid.UUID, artifactID int, userID uuid.UUID) (*AssignmentResult, error) {
	logger.L().Info("assign artifact", zap.String("actor_id", actorID.String()), zap.Int("artifact_id", artifactID), zap.String("user_id", userID.String()))
	if err := requireAdmin(ctx, s.profiles, actorID); err != nil {
		return nil, err
	}

	var res AssignmentResult
	err := withTx(ctx, s.db, func(tx *gorm.DB) error {
		profiles := repository.NewProfileRepository(tx)
		artifacts := repository.NewArtifactRepository(tx)
		requests := repository.NewMintRequestRepository(tx)

		var target models.Profile
		if err := profiles.GetByID(ctx, userID, &target); err != nil {
			return err
		}
		var current models.Artifact
		if err := artifacts.GetByID(ctx, artifactID, &current); err != nil {
			return err
		}
		if current.Status != models.ArtifactAvailable {
			return appErr.New(appErr.CodeAlreadyMinted, "artifact already minted")
		}
		owns, err := artifacts.OwnsAny(ctx, userID)
		if err != nil {
			return err
		}
		if owns {
			return appErr.New(appErr.CodeConflict, "user already owns an artifact")
		}

		if err := artifacts.ClaimAvailable(ctx, artifactID, userID, s.now()); err != nil {
			return err
		}
		if err := artifacts.GetByID(ctx, artifactID, &res.Artifact); err != nil {
			return err
		}

		var req models.MintRequest
		err = requests.GetLatestVerifiedByUser(ctx, userID, &req)
		switch {
		case err == nil:
			if err := requests.Transition(ctx, req.ID, models.MintStatusVerified, models.MintStatusApproved, &artifactID); err != nil {
				return err
			}
			if err := requests.GetByID(ctx, req.ID, &req); err != nil {
				return err
			}
			res.Request = &req
		case appErr.IsCode(err, appErr.CodeNotFound):
			logger.L().Info("assigning without a verified request", zap.String("user_id", userID.String()))
		default:
			return err
		}

		res.Notification = models.Notification{
			UserID:   userID,
			Title:    GiftTitle,
			Message:  fmt.Sprintf(giftMessageFormat, res.Artifact.Name),
			Type:     models.NotificationPersonal,
			ImageURL: res.Artifact.ImageURL,
		}
		return repository.NewNotificationRepository(tx).Create(ctx, &res.Notification)
	})
	if err != nil {
		logger.L().Warn("assign artifact failed", zap.Int("artifact_id", artifactID), zap.Error(err))
		return nil, err
	}

	events := []realtime.Event{artifactEvent(&res.Artifact), notificationEvent(&res.Notification)}
	if res.Request != nil {
		events = append(events, mintRequestEvent(realtime.ActionUpdate, res.Request))
	}
	s.events.Publish(ctx, events...)
	logger.L().Info("artifact assigned", zap.Int("artifact_id", artifactID), zap.String("user_id", userID.String()))
	return &res, nil
}

// Seed creates ids 1..total as available artifacts and leaves existing rows alone.
func (s *inventoryService) Seed(ctx context.Context, total int) (int64, error) {
	if total < 1 {
		return 0, appErr.New(appErr.CodeInvalid, "inventory size must be positive")
	}
	batch := make([]models.Artifact, 0, total)
	for id := 1; id <= total; id++ {
		batch = append(batch, models.Artifact{
			ID:     id,
			Name:   fmt.Sprintf(artifactNameFormat, id),
			Rarity: RarityFor(id),
			Status: models.ArtifactAvailable,
		})
	}
	n, err := s.artifacts.Seed(ctx, batch)
	if err != nil {
		return 0, err
	}
	logger.L().Info("inventory seeded", zap.Int("total", total), zap.Int64("inserted", n))
	return n, nil
}

// RarityFor tiers the pool by id: the first 7 are legendary, the next 70
// epic, the next 200 rare and the rest common.
func RarityFor(id int) string {
	switch {
	case id <= 7:
		return "legendary"
	case id <= 77:
		return "epic"
	case id <= 277:
		return "rare"
	default:
		return "common"
	}
}
