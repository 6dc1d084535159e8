package services

import (
	"context"
	"strings"

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

// UserView is the resolved identity shown to the signed-in user.
type UserView struct {
	ID        uuid.UUID        `json:"id"`
	Email     string           `json:"email"`
	Name      string           `json:"name"`
	Username  string           `json:"username"`
	AvatarURL string           `json:"avatar_url"`
	Role      string           `json:"role"`
	Artifact  *models.Artifact `json:"sbt"`
}

type IdentityService interface {
	Resolve(ctx context.Context, userID uuid.UUID, email string) (*UserView, error)
	Refresh(ctx context.Context, userID uuid.UUID, email string) (*UserView, error)
	UpdateAvatar(ctx context.Context, userID uuid.UUID, email string, image []byte) (*UserView, error)
	ListUsers(ctx context.Context, actorID uuid.UUID) ([]models.Profile, error)
	Promote(ctx context.Context, email, role string) error
}

type identityService struct {
	profiles     repository.ProfileRepository
	artifacts    repository.ArtifactRepository
	store        storage.Store
	avatarBucket string
	events       realtime.Publisher
}

func NewIdentityService(db *gorm.DB, store storage.Store, avatarBucket string, events realtime.Publisher) IdentityService {
	return &identityService{
		profiles:     repository.NewProfileRepository(db),
		artifacts:    repository.NewArtifactRepository(db),
		store:        store,
		avatarBucket: avatarBucket,
		events:       publisherOrNoop(events),
	}
}

var _ IdentityService = (*identityService)(nil)

// Resolve builds the view from storage on every call. A missing profile
// degrades to a view derived from the email; a failed artifact lookup
// leaves the artifact empty.
func (s *identityService) Resolve(ctx context.Context, userID uuid.UUID, email string) (*UserView, error) {
	var p models.Profile
	err := s.profiles.GetByID(ctx, userID, &p)
	if err != nil {
		if !appErr.IsCode(err, appErr.CodeNotFound) {
			return nil, err
		}
		logger.L().Warn("profile missing, using fallback identity", zap.String("user_id", userID.String()))
		local := emailLocalPart(email)
		return &UserView{ID: userID, Email: email, Name: local, Username: local, Role: models.RoleUser}, nil
	}

	view := &UserView{
		ID:        p.ID,
		Email:     p.Email,
		Name:      p.FullName,
		Username:  p.Username,
		AvatarURL: p.AvatarURL,
		Role:      p.Role,
	}
	if view.Username == "" {
		view.Username = emailLocalPart(p.Email)
	}

	var a models.Artifact
	if err := s.artifacts.GetByOwner(ctx, userID, &a); err == nil {
		view.Artifact = &a
	} else if !appErr.IsCode(err, appErr.CodeNotFound) {
		logger.L().Warn("artifact lookup failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	return view, nil
}

func (s *identityService) Refresh(ctx context.Context, userID uuid.UUID, email string) (*UserView, error) {
	return s.Resolve(ctx, userID, email)
}

func (s *identityService) UpdateAvatar(ctx context.Context, userID uuid.UUID, email string, image []byte) (*UserView, error) {
	logger.L().Info("update avatar", zap.String("user_id", userID.String()))
	ct, ext, err := storage.DetectImage(image)
	if err != nil {
		return nil, err
	}
	obj, err := storage.UploadWithFallback(ctx, s.store, []string{s.avatarBucket}, storage.ObjectName(userID.String(), ext), image, ct)
	if err != nil {
		return nil, err
	}
	if err := s.profiles.SetAvatar(ctx, userID, obj.URL); err != nil {
		return nil, err
	}
	view, err := s.Resolve(ctx, userID, email)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, realtime.NewEvent(TableProfiles, realtime.ActionUpdate, userID, false, view))
	return view, nil
}

func (s *identityService) ListUsers(ctx context.Context, actorID uuid.UUID) ([]models.Profile, error) {
	if err := requireAdmin(ctx, s.profiles, actorID); err != nil {
		return nil, err
	}
	return s.profiles.List(ctx)
}

// Promote sets a role out-of-band; it is not reachable from the HTTP API.
func (s *identityService) Promote(ctx context.Context, email, role string) error {
	if role != models.RoleUser && role != models.RoleAdmin {
		return appErr.Validation(map[string]string{"role": "role must be user or admin"})
	}
	logger.L().Info("set role", zap.String("email", email), zap.String("role", role))
	return s.profiles.SetRole(ctx, email, role)
}

func emailLocalPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
