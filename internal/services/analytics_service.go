package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sbt-vault/engine/internal/models"
	"github.com/sbt-vault/engine/internal/repository"
	"github.com/sbt-vault/engine/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const growthMonths = 6

type GrowthPoint struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

type Overview struct {
	MintedCount  int64         `json:"minted_count"`
	UsersCount   int64         `json:"users_count"`
	PendingCount int64         `json:"pending_count"`
	Revenue      int64         `json:"revenue"`
	UserGrowth   []GrowthPoint `json:"user_growth"`
}

type AnalyticsService interface {
	Overview(ctx context.Context, actorID uuid.UUID) (*Overview, error)
}

type analyticsService struct {
	profiles  repository.ProfileRepository
	artifacts repository.ArtifactRepository
	requests  repository.MintRequestRepository
	price     int64
	now       func() time.Time
}

// NewAnalyticsService estimates revenue as minted artifacts times price.
func NewAnalyticsService(db *gorm.DB, price int64) AnalyticsService {
	return &analyticsService{
		profiles:  repository.NewProfileRepository(db),
		artifacts: repository.NewArtifactRepository(db),
		requests:  repository.NewMintRequestRepository(db),
		price:     price,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ AnalyticsService = (*analyticsService)(nil)

func (s *analyticsService) Overview(ctx context.Context, actorID uuid.UUID) (*Overview, error) {
	logger.L().Info("admin overview", zap.String("actor_id", actorID.String()))
	if err := requireAdmin(ctx, s.profiles, actorID); err != nil {
		return nil, err
	}

	counts, err := s.artifacts.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.profiles.Count(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := s.requests.CountByStatus(ctx, models.MintStatusPending)
	if err != nil {
		return nil, err
	}
	growth, err := s.growth(ctx)
	if err != nil {
		return nil, err
	}

	minted := counts[models.ArtifactMinted]
	return &Overview{
		MintedCount:  minted,
		UsersCount:   users,
		PendingCount: pending,
		Revenue:      minted * s.price,
		UserGrowth:   growth,
	}, nil
}

// growth is the running total of signups across the last six calendar
// months, current month included, starting from zero at the window start.
func (s *analyticsService) growth(ctx context.Context) ([]GrowthPoint, error) {
	now := s.now()
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := current.AddDate(0, -(growthMonths - 1), 0)

	before, err := s.profiles.CreatedBefore(ctx, start)
	if err != nil {
		return nil, err
	}
	out := make([]GrowthPoint, 0, growthMonths)
	for i := 0; i < growthMonths; i++ {
		month := start.AddDate(0, i, 0)
		upto, err := s.profiles.CreatedBefore(ctx, month.AddDate(0, 1, 0))
		if err != nil {
			return nil, err
		}
		out = append(out, GrowthPoint{Name: month.Format("Jan"), Value: upto - before})
	}
	return out, nil
}
