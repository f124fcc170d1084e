package telegram

import (
	"fmt"
	"strings"
	"time"
)

const maxErrorPreview = 300

// FormatExecutionResult renders a terminal execution as a short Telegram message.
func FormatExecutionResult(taskName string, versionNumber int, executionID uint, status string, completedAt time.Time, errMsg string) string {
	var builder strings.Builder

	emoji := "✅"
	if status != "completed" {
		emoji = "📛"
	}

	builder.WriteString(fmt.Sprintf("%s [%s v%d] execution #%d %s\n", emoji, taskName, versionNumber, executionID, strings.ToUpper(status)))
	builder.WriteString(fmt.Sprintf("🕒 %s\n", completedAt.UTC().Format("2006-01-02 15:04:05 UTC")))
	if errMsg != "" {
		if len(errMsg) > maxErrorPreview {
			errMsg = errMsg[:maxErrorPreview] + "…"
		}
		builder.WriteString(fmt.Sprintf("⚠️ %s\n", errMsg))
	}
	return builder.String()
}
