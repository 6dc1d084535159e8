package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sbt-vault/engine/internal/models"
	"github.com/sbt-vault/engine/internal/realtime"
	"github.com/sbt-vault/engine/internal/repository"
	"github.com/sbt-vault/engine/internal/security"
	appErr "github.com/sbt-vault/engine/pkg/errors"
	"github.com/sbt-vault/engine/pkg/logger"
	"github.com/sbt-vault/engine/pkg/validation"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	welcomeTitle   = "Welcome to Signigeria"
	welcomeMessage = "Your journey begins now. Explore the collection."
)

type RegisterInput struct {
	Name            string `json:"name" validate:"required,max=120"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
	Gender          string `json:"gender" validate:"required,oneof=male female"`
	Username        string `json:"username" validate:"omitempty,max=40"`
	Twitter         string `json:"twitter" validate:"omitempty,max=40"`
	IsSignBeliever  bool   `json:"is_sign_believer"`
}

// SignupOrigin is what the security gate learned about the caller.
type SignupOrigin struct {
	Assessment  security.Assessment
	Fingerprint string
}

// Claims are carried in issued access tokens.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type LoginResult struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Profile   *models.Profile `json:"profile"`
}

type AuthService interface {
	Register(ctx context.Context, in RegisterInput, origin SignupOrigin) (*models.Profile, error)
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	ParseToken(token string) (*Claims, error)
}

type authService struct {
	db         *gorm.DB
	profiles   repository.ProfileRepository
	hmacSecret []byte
	tokenTTL   time.Duration
	events     realtime.Publisher
}

func NewAuthService(db *gorm.DB, secret []byte, tokenTTL time.Duration, events realtime.Publisher) AuthService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &authService{
		db:         db,
		profiles:   repository.NewProfileRepository(db),
		hmacSecret: secret,
		tokenTTL:   tokenTTL,
		events:     publisherOrNoop(events),
	}
}

var _ AuthService = (*authService)(nil)

func (s *authService) Register(ctx context.Context, in RegisterInput, origin SignupOrigin) (*models.Profile, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	logger.L().Info("register", zap.String("email", in.Email), zap.String("address", origin.Assessment.Address))

	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if origin.Assessment.Blocked() {
		logger.L().Warn("signup from anonymized network refused",
			zap.String("address", origin.Assessment.Address), zap.Bool("degraded", origin.Assessment.Degraded))
		return nil, appErr.New(appErr.CodeAnonymizedNetwork, "signups from VPN, proxy or hosting networks are not allowed")
	}

	address := origin.Assessment.Address
	if origin.Assessment.Local {
		address = ""
	}
	fingerprint := origin.Fingerprint
	if fingerprint == "" {
		fingerprint = models.UnknownFingerprint
	}
	taken, err := s.profiles.HasSignupFrom(ctx, address, fingerprint)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, appErr.New(appErr.CodeConflict, "an account has already been created from this device or network")
	}

	ph, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "hash password failed")
	}
	meta, err := json.Marshal(models.ProfileMetadata{Gender: in.Gender, Twitter: in.Twitter, IsSignBeliever: in.IsSignBeliever})
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "encode profile metadata failed")
	}

	username := strings.TrimSpace(in.Username)
	if username == "" {
		username = emailLocalPart(in.Email)
	}
	p := &models.Profile{
		Email:             in.Email,
		PasswordHash:      string(ph),
		FullName:          in.Name,
		Username:          username,
		Role:              models.RoleUser,
		NetworkAddress:    address,
		DeviceFingerprint: fingerprint,
		Country:           origin.Assessment.Country,
		Metadata:          datatypes.JSON(meta),
	}
	welcome := &models.Notification{Title: welcomeTitle, Message: welcomeMessage, Type: models.NotificationPersonal}
	err = withTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := repository.NewProfileRepository(tx).Create(ctx, p); err != nil {
			if appErr.IsCode(err, appErr.CodeConflict) {
				return appErr.Wrap(err, appErr.CodeConflict, "email already registered")
			}
			return err
		}
		welcome.UserID = p.ID
		return repository.NewNotificationRepository(tx).Create(ctx, welcome)
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx,
		realtime.NewEvent(TableProfiles, realtime.ActionInsert, p.ID, false, p),
		notificationEvent(welcome))
	logger.L().Info("profile created", zap.String("user_id", p.ID.String()))
	return p, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var p models.Profile
	if err := s.profiles.GetByEmail(ctx, strings.TrimSpace(email), &p); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return nil, appErr.New(appErr.CodeUnauthorized, "invalid credentials")
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)); err != nil {
		return nil, appErr.New(appErr.CodeUnauthorized, "invalid credentials")
	}

	expires := time.Now().Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID.String(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(s.hmacSecret)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "sign token failed")
	}
	logger.L().Info("login", zap.String("user_id", p.ID.String()))
	return &LoginResult{Token: signed, ExpiresAt: expires, Profile: &p}, nil
}

// ParseToken validates an HS256 token and returns its claims.
func (s *authService) ParseToken(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.hmacSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, appErr.Wrap(err, appErr.CodeUnauthorized, "invalid token")
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeUnauthorized, "invalid token subject")
	}
	return claims, nil
}
