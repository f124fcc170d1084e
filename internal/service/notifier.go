package service

import (
	"context"
	"time"

	"taskrunner/internal/model"
	"taskrunner/pkg/logger"
	"taskrunner/pkg/telegram"
	"taskrunner/pkg/utils"
)

const notifyTimeout = 10 * time.Second

// Notifier announces finished executions. Delivery is best-effort.
type Notifier interface {
	ExecutionFinished(ctx context.Context, execution *model.TaskExecution)
}

// MessageSender is satisfied by *telegram.Sender.
type MessageSender interface {
	SendMessage(ctx context.Context, message string, opts ...interface{}) error
}

type telegramNotifier struct {
	log    *logger.Logger
	sender MessageSender
}

func NewTelegramNotifier(log *logger.Logger, sender MessageSender) Notifier {
	return &telegramNotifier{log: log, sender: sender}
}

// ExecutionFinished sends completed and failed results in the background.
func (n *telegramNotifier) ExecutionFinished(ctx context.Context, execution *model.TaskExecution) {
	if execution.Status != model.ExecutionStatusCompleted && execution.Status != model.ExecutionStatusFailed {
		return
	}

	taskName, versionNumber := "", 0
	if v := execution.TaskVersion; v != nil {
		versionNumber = v.VersionNumber
		if v.Task != nil {
			taskName = v.Task.Name
		}
	}
	completedAt := utils.TimeNow()
	if execution.CompletedAt != nil {
		completedAt = *execution.CompletedAt
	}
	message := telegram.FormatExecutionResult(taskName, versionNumber, execution.ID, string(execution.Status), completedAt, execution.ErrorMessage)

	utils.GoSafe(n.log, "notify-execution", func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := n.sender.SendMessage(sendCtx, message); err != nil {
			n.log.WarnContext(sendCtx, "Execution notification failed",
				logger.UintField("execution_id", execution.ID),
				logger.ErrorField(err),
			)
		}
	})
}

type noopNotifier struct{}

func NewNoopNotifier() Notifier {
	return noopNotifier{}
}

func (noopNotifier) ExecutionFinished(context.Context, *model.TaskExecution) {}
