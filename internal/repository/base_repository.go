package repository

import (
	"context"
	"errors"

	"github.com/sbt-vault/engine/pkg/database"
	appErr "github.com/sbt-vault/engine/pkg/errors"
	"gorm.io/gorm"
)

// BaseRepository defines the operations every persisted model supports.
// Rows are never hard-deleted, so there is no Delete.
type BaseRepository[T any] interface {
	Create(ctx context.Context, obj *T) error
	GetByID(ctx context.Context, id any, dest *T) error
	Update(ctx context.Context, obj *T) error
}

type baseRepository[T any] struct {
	db   *gorm.DB
	name string
}

func NewBaseRepository[T any](db *gorm.DB, name string) BaseRepository[T] {
	return &baseRepository[T]{db: db, name: name}
}

func (r *baseRepository[T]) Create(ctx context.Context, obj *T) error {
	if err := r.db.WithContext(ctx).Create(obj).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return appErr.Wrap(err, appErr.CodeConflict, r.name+" already exists")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "create "+r.name+" failed")
	}
	return nil
}

func (r *baseRepository[T]) GetByID(ctx context.Context, id any, dest *T) error {
	if err := r.db.WithContext(ctx).First(dest, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.New(appErr.CodeNotFound, r.name+" not found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get "+r.name+" failed")
	}
	return nil
}

func (r *baseRepository[T]) Update(ctx context.Context, obj *T) error {
	if err := r.db.WithContext(ctx).Save(obj).Error; err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "update "+r.name+" failed")
	}
	return nil
}
