package bus

import (
	"context"
	"io"
	"log"
)

// ChangesStream is the Redis stream dataset mutations are announced on.
const ChangesStream = "dataset_changes"

// Bus defines the interface for change-notification bus implementations
type Bus interface {
	// PublishChange announces a committed dataset mutation
	PublishChange(ctx context.Context, msg ChangeMessage) error

	// ReadChanges delivers changes published after the group was created until ctx is done
	ReadChanges(ctx context.Context, group, consumer string, handler func(ctx context.Context, msg ChangeMessage) error) error

	// DropGroup removes a consumer group created by ReadChanges
	DropGroup(ctx context.Context, group string) error

	// GetStats returns basic statistics about the bus
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// HealthCheck performs a health check on the bus connection
	HealthCheck(ctx context.Context) error

	// Close closes the bus connection
	Close() error
}

// ChangeMessage describes one mutation of a dataset
type ChangeMessage struct {
	DatasetID string `json:"dataset_id"`
	Action    string `json:"action"`
	RowID     int64  `json:"row_id,omitempty"`
	UndoDepth int    `json:"undo_depth"`
	// Origin identifies the client that caused the change so it can skip its own messages.
	Origin    string `json:"origin,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewBus creates a new bus instance based on the Redis URL
// If redisURL is empty or invalid, returns a NullBus
func NewBus(redisURL string, logger *log.Logger) Bus {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	if redisURL == "" {
		return NewNullBus(logger)
	}

	redisBus, err := NewRedisBus(redisURL, logger)
	if err == nil {
		return redisBus
	}

	logger.Printf("Redis unavailable, change notifications disabled: %v", err)
	return NewNullBus(logger)
}
