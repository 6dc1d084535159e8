// Package services holds the domain workflows behind the HTTP API.
package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sbt-vault/engine/internal/models"
	"github.com/sbt-vault/engine/internal/realtime"
	"github.com/sbt-vault/engine/internal/repository"
	appErr "github.com/sbt-vault/engine/pkg/errors"
	"gorm.io/gorm"
)

// Table names carried on change events.
const (
	TableProfiles      = "profiles"
	TableMintRequests  = "mint_requests"
	TableArtifacts     = "sbts"
	TableNotifications = "notifications"
)

// requireAdmin resolves the actor's role from storage. Missing actors are
// treated like non-admins.
func requireAdmin(ctx context.Context, profiles repository.ProfileRepository, actorID uuid.UUID) error {
	var p models.Profile
	if err := profiles.GetByID(ctx, actorID, &p); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return appErr.New(appErr.CodeForbidden, "admin role required")
		}
		return err
	}
	if !p.IsAdmin() {
		return appErr.New(appErr.CodeForbidden, "admin role required")
	}
	return nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, ...realtime.Event) {}

func publisherOrNoop(p realtime.Publisher) realtime.Publisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}

func notificationEvent(n *models.Notification) realtime.Event {
	return realtime.NewEvent(TableNotifications, realtime.ActionInsert, n.UserID, false, n)
}

func mintRequestEvent(action string, m *models.MintRequest) realtime.Event {
	return realtime.NewEvent(TableMintRequests, action, m.UserID, false, m)
}

func artifactEvent(a *models.Artifact) realtime.Event {
	owner := uuid.Nil
	if a.OwnerID != nil {
		owner = *a.OwnerID
	}
	return realtime.NewEvent(TableArtifacts, realtime.ActionUpdate, owner, true, a)
}

func withTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return appErr.Wrap(tx.Error, appErr.CodeInternal, "begin transaction failed")
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "commit transaction failed")
	}
	return nil
}
