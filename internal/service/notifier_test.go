package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskrunner/internal/model"
	"taskrunner/pkg/logger"

	"github.com/stretchr/testify/assert"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (s *recordingSender) SendMessage(_ context.Context, message string, _ ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return s.err
}

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func TestTelegramNotifier_ExecutionFinished(t *testing.T) {
	completedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	version := &model.TaskVersion{VersionNumber: 3, Task: &model.Task{Name: "nightly-report"}}

	tests := []struct {
		name     string
		status   model.ExecutionStatus
		errMsg   string
		contains []string
	}{
		{name: "completed", status: model.ExecutionStatusCompleted, contains: []string{"nightly-report v3", "#7", "COMPLETED"}},
		{name: "failed", status: model.ExecutionStatusFailed, errMsg: "ValueError: boom", contains: []string{"FAILED", "ValueError: boom"}},
		{name: "cancelled is silent", status: model.ExecutionStatusCancelled},
		{name: "timeout is silent", status: model.ExecutionStatusTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &recordingSender{err: errors.New("telegram down")}
			notifier := NewTelegramNotifier(logger.NewNop(), sender)

			notifier.ExecutionFinished(context.Background(), &model.TaskExecution{
				ID:           7,
				Status:       tt.status,
				ErrorMessage: tt.errMsg,
				CompletedAt:  &completedAt,
				TaskVersion:  version,
			})

			if len(tt.contains) == 0 {
				assert.Never(t, func() bool { return len(sender.sent()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
				return
			}
			assert.Eventually(t, func() bool { return len(sender.sent()) == 1 }, time.Second, 10*time.Millisecond)
			for _, want := range tt.contains {
				assert.Contains(t, sender.sent()[0], want)
			}
		})
	}
}
