package services

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/sbt-vault/engine/internal/models"
	"github.com/sbt-vault/engine/internal/realtime"
	"github.com/sbt-vault/engine/internal/storage"
	"github.com/sbt-vault/engine/internal/testutil"
	appErr "github.com/sbt-vault/engine/pkg/errors"
	"github.com/sbt-vault/engine/pkg/logger"
	"gorm.io/gorm"
)

var pngProof = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestMain(m *testing.M) {
	if _, err := logger.Init("error", "console"); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

type recorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recorder) Publish(_ context.Context, events ...realtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recorder) tables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Table)
	}
	return out
}

type fixture struct {
	db     *gorm.DB
	store  *storage.LocalStore
	events *recorder
	admin  *models.Profile
}

// newFixture provisions only the second proof bucket so uploads exercise the fallback.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	store, err := storage.NewLocalStore(t.TempDir(), "http://localhost/storage", []string{"payment_proofs", "avatars", "announcements"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return &fixture{
		db:     db,
		store:  store,
		events: &recorder{},
		admin:  testutil.CreateProfile(t, db, "admin@example.com", models.RoleAdmin),
	}
}

func (f *fixture) mint() MintService {
	return NewMintService(f.db, f.store, []string{"proofs", "payment_proofs"}, f.events)
}

func (f *fixture) inventory() InventoryService {
	return NewInventoryService(f.db, f.events)
}

func (f *fixture) user(t *testing.T, email string) *models.Profile {
	return testutil.CreateProfile(t, f.db, email, models.RoleUser)
}

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	ae := asAppError(t, err)
	fields, _ := ae.Meta["fields"].(map[string]string)
	return fields
}

func asAppError(t *testing.T, err error) *appErr.AppError {
	t.Helper()
	var ae *appErr.AppError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AppError, got %v", err)
	}
	return ae
}
