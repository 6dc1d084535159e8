package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sbt-vault/engine/internal/models"
	"github.com/sbt-vault/engine/internal/realtime"
	"github.com/sbt-vault/engine/internal/repository"
	"github.com/sbt-vault/engine/internal/storage"
	appErr "github.com/sbt-vault/engine/pkg/errors"
	"github.com/sbt-vault/engine/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type SubmitInput struct {
	PlatformUsername string
	Proof            []byte
}

// ActiveRequest is a pending or verified request with its advisory deadline.
type ActiveRequest struct {
	models.MintRequest
	CountdownEndsAt time.Time `json:"countdown_ends_at"`
}

type MintService interface {
	Submit(ctx context.Context, userID uuid.UUID, in SubmitInput) (*models.MintRequest, error)
	GetActive(ctx context.Context, userID uuid.UUID) (*ActiveRequest, error)
	History(ctx context.Context, userID uuid.UUID) ([]models.MintRequest, error)
	List(ctx context.Context, actorID uuid.UUID, status string) ([]models.MintRequest, error)
	Verify(ctx context.Context, actorID uuid.UUID, id uint64) (*models.MintRequest, error)
	Reject(ctx context.Context, actorID uuid.UUID, id uint64) (*models.MintRequest, error)
	VerifiedRequesters(ctx context.Context, actorID uuid.UUID) ([]models.Profile, error)
}

type mintService struct {
	db           *gorm.DB
	profiles     repository.ProfileRepository
	requests     repository.MintRequestRepository
	artifacts    repository.ArtifactRepository
	store        storage.Store
	proofBuckets []string
	events       realtime.Publisher
}

func NewMintService(db *gorm.DB, store storage.Store, proofBuckets []string, events realtime.Publisher) MintService {
	return &mintService{
		db:           db,
		profiles:     repository.NewProfileRepository(db),
		requests:     repository.NewMintRequestRepository(db),
		artifacts:    repository.NewArtifactRepository(db),
		store:        store,
		proofBuckets: proofBuckets,
		events:       publisherOrNoop(events),
	}
}

var _ MintService = (*mintService)(nil)

func (s *mintService) Submit(ctx context.Context, userID uuid.UUID, in SubmitInput) (*models.MintRequest, error) {
	logger.L().Info("submit mint request", zap.String("user_id", userID.String()))

	username := strings.TrimSpace(in.PlatformUsername)
	fields := map[string]string{}
	if username == "" {
		fields["platform_username"] = "platform username is required"
	}
	if len(in.Proof) == 0 {
		fields["proof"] = "payment proof is required"
	}
	if len(fields) > 0 {
		return nil, appErr.Validation(fields)
	}
	contentType, ext, err := storage.DetectImage(in.Proof)
	if err != nil {
		return nil, err
	}

	owns, err := s.artifacts.OwnsAny(ctx, userID)
	if err != nil {
		return nil, err
	}
	if owns {
		return nil, appErr.New(appErr.CodeConflict, "user already owns an artifact")
	}
	var active models.MintRequest
	err = s.requests.GetActiveByUser(ctx, userID, &active)
	switch {
	case err == nil:
		return nil, appErr.New(appErr.CodeConflict, "an active mint request already exists").
			WithMeta("request_id", active.ID)
	case !appErr.IsCode(err, appErr.CodeNotFound):
		return nil, err
	}

	obj, err := storage.UploadWithFallback(ctx, s.store, s.proofBuckets, storage.ObjectName(userID.String(), ext), in.Proof, contentType)
	if err != nil {
		logger.L().Error("proof upload failed", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, err
	}

	req := &models.MintRequest{
		UserID:           userID,
		PlatformUsername: username,
		PaymentProofURL:  obj.URL,
		PaymentProofRef:  obj.Ref(),
		Status:           models.MintStatusPending,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		if appErr.IsCode(err, appErr.CodeConflict) {
			return nil, appErr.Wrap(err, appErr.CodeConflict, "an active mint request already exists")
		}
		return nil, err
	}

	s.events.Publish(ctx, mintRequestEvent(realtime.ActionInsert, req))
	logger.L().Info("mint request submitted", zap.Uint64("request_id", req.ID), zap.String("proof", obj.Ref()))
	return req, nil
}

func (s *mintService) GetActive(ctx context.Context, userID uuid.UUID) (*ActiveRequest, error) {
	var req models.MintRequest
	if err := s.requests.GetActiveByUser(ctx, userID, &req); err != nil {
		return nil, err
	}
	return &ActiveRequest{MintRequest: req, CountdownEndsAt: req.CountdownEndsAt()}, nil
}

func (s *mintService) History(ctx context.Context, userID uuid.UUID) ([]models.MintRequest, error) {
	return s.requests.ListByUser(ctx, userID)
}

func (s *mintService) List(ctx context.Context, actorID uuid.UUID, status string) ([]models.MintRequest, error) {
	if err := requireAdmin(ctx, s.profiles, actorID); err != nil {
		return nil, err
	}
	switch status {
	case "", "all", models.MintStatusPending, models.MintStatusVerified, models.MintStatusApproved, models.MintStatusRejected:
	default:
		return nil, appErr.Validation(map[string]string{"status": "unknown status"})
	}
	return s.requests.ListByStatus(ctx, status)
}

func (s *mintService) Verify(ctx context.Context, actorID uuid.UUID, id uint64) (*models.MintRequest, error) {
	return s.review(ctx, actorID, id, models.MintStatusVerified,
		"Payment Verified",
		"Your payment proof has been verified. Your SBT will be assigned shortly.")
}

func (s *mintService) Reject(ctx context.Context, actorID uuid.UUID, id uint64) (*models.MintRequest, error) {
	return s.review(ctx, actorID, id, models.MintStatusRejected,
		"Mint Request Rejected",
		"Your payment proof could not be verified. You can submit a new request.")
}

// review moves a pending request to its decided state and tells the requester.
func (s *mintService) review(ctx context.Context, actorID uuid.UUID, id uint64, to, title, message string) (*models.MintRequest, error) {
	logger.L().Info("review mint request", zap.String("actor_id", actorID.String()), zap.Uint64("request_id", id), zap.String("to", to))
	if err := requireAdmin(ctx, s.profiles, actorID); err != nil {
		return nil, err
	}

	var req models.MintRequest
	var note *models.Notification
	err := withTx(ctx, s.db, func(tx *gorm.DB) error {
		requests := repository.NewMintRequestRepository(tx)
		if err := requests.Transition(ctx, id, models.MintStatusPending, to, nil); err != nil {
			return err
		}
		if err := requests.GetByID(ctx, id, &req); err != nil {
			return err
		}
		note = &models.Notification{UserID: req.UserID, Title: title, Message: message, Type: models.NotificationPersonal}
		return repository.NewNotificationRepository(tx).Create(ctx, note)
	})
	if err != nil {
		logger.L().Warn("review mint request failed", zap.Uint64("request_id", id), zap.Error(err))
		return nil, err
	}

	s.events.Publish(ctx, mintRequestEvent(realtime.ActionUpdate, &req), notificationEvent(note))
	return &req, nil
}

func (s *mintService) VerifiedRequesters(ctx context.Context, actorID uuid.UUID) ([]models.Profile, error) {
	if err := requireAdmin(ctx, s.profiles, actorID); err != nil {
		return nil, err
	}
	ids, err := s.requests.VerifiedUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	return s.profiles.GetByIDs(ctx, ids)
}
