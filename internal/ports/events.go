package ports

import (
	"context"

	"github.com/olgkv/cyclecount/internal/domain"
)

// EventPublisher delivers task lifecycle notifications.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.TaskEvent) error
	Close() error
}
