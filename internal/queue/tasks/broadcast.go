package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sbt-vault/engine/internal/services"
	"github.com/sbt-vault/engine/pkg/logger"
	"go.uber.org/zap"
)

// BroadcastTaskHandler fans queued announcements out to every user.
type BroadcastTaskHandler struct {
	notifications services.NotificationService
}

func NewBroadcastTaskHandler(notifications services.NotificationService) *BroadcastTaskHandler {
	return &BroadcastTaskHandler{notifications: notifications}
}

// Register binds the handler on mux.
func (h *BroadcastTaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(services.TaskAnnouncementBroadcast, h.HandleBroadcast)
}

func (h *BroadcastTaskHandler) HandleBroadcast(ctx context.Context, t *asynq.Task) error {
	var p services.BroadcastPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid broadcast task payload", zap.Error(err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.Title == "" || p.Message == "" {
		logger.L().Error("broadcast task missing title or message")
		return fmt.Errorf("empty broadcast: %w", asynq.SkipRetry)
	}

	logger.L().Info("handling broadcast task", zap.String("title", p.Title))
	n, err := h.notifications.FanOut(ctx, p)
	if err != nil {
		logger.L().Error("broadcast fan-out failed", zap.Error(err))
		return err
	}
	logger.L().Info("broadcast task completed", zap.Int("recipients", n))
	return nil
}
