// Package eventhandler содержит обработчики внешних и доменных событий.
package eventhandler

import (
	"context"
	"log/slog"
	"time"

	"github.com/studydeck/studydeck-progression/internal/application/command"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON TASK STATUS CHANGED HANDLER
// Обрабатывает смену статуса задачи, приходящую от планировщика StudyDeck.
//
// Награды реагируют только на пересечение границы "completed":
//   - переход В "completed"  -> награда (award)
//   - переход ИЗ "completed" -> отзыв (revoke)
//   - всё остальное          -> игнорируется
//
// Повторные доставки безопасны: award дедуплицируется по журналу,
// revoke без награды - no-op.
// ═══════════════════════════════════════════════════════════════════════════

// StatusCompleted - статус, пересечение которого запускает награду.
const StatusCompleted = "completed"

// TaskStatusChanged - входящее уведомление о смене статуса задачи.
type TaskStatusChanged struct {
	// SubjectID - владелец задачи.
	SubjectID string

	// TaskID - идентификатор задачи.
	TaskID string

	// ItemType - тип элемента: task, event или study.
	ItemType string

	// PreviousStatus - статус до изменения.
	PreviousStatus string

	// NewStatus - статус после изменения.
	NewStatus string

	// ChangedAt - момент изменения (ноль = сейчас).
	ChangedAt time.Time

	// CorrelationID - идентификатор для трассировки.
	CorrelationID string
}

// Outcome описывает, что сделал обработчик со сменой статуса.
type Outcome string

const (
	// OutcomeAwarded - начислена награда.
	OutcomeAwarded Outcome = "awarded"

	// OutcomeRevoked - награда отозвана.
	OutcomeRevoked Outcome = "revoked"

	// OutcomeIgnored - граница "completed" не пересекалась.
	OutcomeIgnored Outcome = "ignored"

	// OutcomeNoOp - пересечение было, но журнал уже в нужном
	// состоянии (дубликат или отзыв без награды).
	OutcomeNoOp Outcome = "noop"
)

// OnTaskStatusChangedHandler транслирует смены статусов в команды наград.
type OnTaskStatusChangedHandler struct {
	award  *command.AwardTaskHandler
	revoke *command.RevokeTaskHandler
	logger *slog.Logger
}

// NewOnTaskStatusChangedHandler создаёт новый обработчик.
func NewOnTaskStatusChangedHandler(
	award *command.AwardTaskHandler,
	revoke *command.RevokeTaskHandler,
	logger *slog.Logger,
) *OnTaskStatusChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnTaskStatusChangedHandler{
		award:  award,
		revoke: revoke,
		logger: logger.With(slog.String("handler", "on_task_status_changed")),
	}
}

// Handle обрабатывает смену статуса.
func (h *OnTaskStatusChangedHandler) Handle(ctx context.Context, msg TaskStatusChanged) (Outcome, error) {
	wasCompleted := msg.PreviousStatus == StatusCompleted
	isCompleted := msg.NewStatus == StatusCompleted

	switch {
	case !wasCompleted && isCompleted:
		return h.handleCompleted(ctx, msg)
	case wasCompleted && !isCompleted:
		return h.handleUncompleted(ctx, msg)
	default:
		// Смена статуса, не задевающая границу "completed"
		// (pending -> in_progress и т.п.), наград не касается.
		h.logger.Debug("status change ignored",
			slog.String("task_id", msg.TaskID),
			slog.String("from", msg.PreviousStatus),
			slog.String("to", msg.NewStatus))
		return OutcomeIgnored, nil
	}
}

func (h *OnTaskStatusChangedHandler) handleCompleted(ctx context.Context, msg TaskStatusChanged) (Outcome, error) {
	res, err := h.award.Handle(ctx, command.AwardTaskCommand{
		SubjectID:     msg.SubjectID,
		TaskID:        msg.TaskID,
		ItemType:      msg.ItemType,
		Timestamp:     msg.ChangedAt,
		CorrelationID: msg.CorrelationID,
	})
	if err != nil {
		return "", err
	}
	if res.Duplicate {
		return OutcomeNoOp, nil
	}

	h.logger.Info("task completion rewarded",
		slog.String("subject_id", msg.SubjectID),
		slog.String("task_id", msg.TaskID),
		slog.Int("xp", res.XPGranted))
	return OutcomeAwarded, nil
}

func (h *OnTaskStatusChangedHandler) handleUncompleted(ctx context.Context, msg TaskStatusChanged) (Outcome, error) {
	res, err := h.revoke.Handle(ctx, command.RevokeTaskCommand{
		SubjectID:     msg.SubjectID,
		TaskID:        msg.TaskID,
		Timestamp:     msg.ChangedAt,
		CorrelationID: msg.CorrelationID,
	})
	if err != nil {
		return "", err
	}
	if res.NotFound {
		return OutcomeNoOp, nil
	}

	h.logger.Info("task reward revoked",
		slog.String("subject_id", msg.SubjectID),
		slog.String("task_id", msg.TaskID),
		slog.Int("xp", res.RevokedAmount))
	return OutcomeRevoked, nil
}
