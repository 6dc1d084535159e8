package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sbt-vault/engine/internal/models"
	"github.com/sbt-vault/engine/internal/repository"
	"github.com/sbt-vault/engine/internal/security"
	appErr "github.com/sbt-vault/engine/pkg/errors"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-0123456789")

func validSignup(email string) RegisterInput {
	return RegisterInput{
		Name:            "Ada Obi",
		Email:           email,
		Password:        "password123",
		ConfirmPassword: "password123",
		Gender:          "female",
		Twitter:         "@ada",
	}
}

func cleanOrigin(addr, fp string) SignupOrigin {
	return SignupOrigin{
		Assessment:  security.Assessment{Address: addr, Country: "Nigeria", Risk: security.RiskClean},
		Fingerprint: fp,
	}
}

func TestRegisterCreatesProfile(t *testing.T) {
	f := newFixture(t)
	svc := NewAuthService(f.db, testSecret, time.Hour, f.events)
	ctx := context.Background()

	p, err := svc.Register(ctx, validSignup(" Ada@Example.com "), cleanOrigin("203.0.113.9", "fp-1"))
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", p.Email)
	require.Equal(t, "ada", p.Username)
	require.Equal(t, models.RoleUser, p.Role)
	require.Equal(t, "Nigeria", p.Country)
	require.NotEqual(t, "password123", p.PasswordHash)

	var meta models.ProfileMetadata
	require.NoError(t, json.Unmarshal(p.Metadata, &meta))
	require.Equal(t, "female", meta.Gender)

	notes, err := repository.NewNotificationRepository(f.db).ListByUser(ctx, p.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	require.Equal(t, welcomeTitle, notes[0].Title)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	svc := NewAuthService(f.db, testSecret, time.Hour, f.events)

	in := validSignup("bad")
	in.ConfirmPassword = "different1"
	in.Gender = ""
	_, err := svc.Register(context.Background(), in, cleanOrigin("203.0.113.9", "fp"))
	require.True(t, appErr.IsCode(err, appErr.CodeInvalid))

	fields := fieldsOf(t, err)
	require.Contains(t, fields, "email")
	require.Contains(t, fields, "confirm_password")
	require.Contains(t, fields, "gender")
}

func TestRegisterRefusesAnonymizedNetwork(t *testing.T) {
	f := newFixture(t)
	svc := NewAuthService(f.db, testSecret, time.Hour, f.events)

	origin := SignupOrigin{Assessment: security.Assessment{Address: "198.51.100.1", Risk: security.RiskAnonymized, Degraded: true}}
	_, err := svc.Register(context.Background(), validSignup("vpn@example.com"), origin)
	require.True(t, appErr.IsCode(err, appErr.CodeAnonymizedNetwork))

	n, err := repository.NewProfileRepository(f.db).Count(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, n, "only the fixture admin exists")
}

func TestRegisterBlocksRepeatOrigin(t *testing.T) {
	f := newFixture(t)
	svc := NewAuthService(f.db, testSecret, time.Hour, f.events)
	ctx := context.Background()

	_, err := svc.Register(ctx, validSignup("one@example.com"), cleanOrigin("203.0.113.9", "fp-1"))
	require.NoError(t, err)

	_, err = svc.Register(ctx, validSignup("two@example.com"), cleanOrigin("203.0.113.10", "fp-1"))
	require.True(t, appErr.IsCode(err, appErr.CodeConflict), "same device")

	_, err = svc.Register(ctx, validSignup("three@example.com"), cleanOrigin("203.0.113.9", "fp-3"))
	require.True(t, appErr.IsCode(err, appErr.CodeConflict), "same network")

	_, err = svc.Register(ctx, validSignup("one@example.com"), cleanOrigin("203.0.113.11", "fp-4"))
	require.True(t, appErr.IsCode(err, appErr.CodeConflict), "same email")
}

func TestRegisterUnknownFingerprintNeverCollides(t *testing.T) {
	f := newFixture(t)
	svc := NewAuthService(f.db, testSecret, time.Hour, f.events)
	ctx := context.Background()

	_, err := svc.Register(ctx, validSignup("one@example.com"), cleanOrigin("203.0.113.1", ""))
	require.NoError(t, err)
	_, err = svc.Register(ctx, validSignup("two@example.com"), cleanOrigin("203.0.113.2", models.UnknownFingerprint))
	require.NoError(t, err)

	local := SignupOrigin{Assessment: security.Assessment{Address: "127.0.0.1", Risk: security.RiskClean, Local: true}}
	_, err = svc.Register(ctx, validSignup("three@example.com"), local)
	require.NoError(t, err)
	_, err = svc.Register(ctx, validSignup("four@example.com"), local)
	require.NoError(t, err, "local carve-out does not record an address")
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	f := newFixture(t)
	svc := NewAuthService(f.db, testSecret, time.Hour, f.events)
	ctx := context.Background()

	p, err := svc.Register(ctx, validSignup("ada@example.com"), cleanOrigin("203.0.113.9", "fp-1"))
	require.NoError(t, err)

	res, err := svc.Login(ctx, "ADA@example.com", "password123")
	require.NoError(t, err)
	require.Equal(t, p.ID, res.Profile.ID)
	require.WithinDuration(t, time.Now().Add(time.Hour), res.ExpiresAt, time.Minute)

	claims, err := svc.ParseToken(res.Token)
	require.NoError(t, err)
	require.Equal(t, p.ID.String(), claims.Subject)
	require.Equal(t, "ada@example.com", claims.Email)

	_, err = svc.Login(ctx, "ada@example.com", "wrong-password")
	require.True(t, appErr.IsCode(err, appErr.CodeUnauthorized))
	_, err = svc.Login(ctx, "nobody@example.com", "password123")
	require.True(t, appErr.IsCode(err, appErr.CodeUnauthorized))

	other := NewAuthService(f.db, []byte("another-secret-0123456"), time.Hour, nil)
	_, err = other.ParseToken(res.Token)
	require.True(t, appErr.IsCode(err, appErr.CodeUnauthorized))
}
