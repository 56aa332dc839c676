package bus

import (
	"context"
	"log"
)

// NullBus is a no-op implementation of the bus interface for when Redis is disabled
type NullBus struct {
	logger *log.Logger
}

// NewNullBus creates a new null bus instance
func NewNullBus(logger *log.Logger) *NullBus {
	if logger == nil {
		logger = log.New(log.Writer(), "[NullBus] ", log.LstdFlags)
	}

	return &NullBus{
		logger: logger,
	}
}

// Close is a no-op for null bus
func (nb *NullBus) Close() error {
	return nil
}

// PublishChange drops the message
func (nb *NullBus) PublishChange(ctx context.Context, msg ChangeMessage) error {
	return nil
}

// ReadChanges blocks until the context is cancelled since nothing is ever delivered
func (nb *NullBus) ReadChanges(ctx context.Context, group, consumer string, handler func(ctx context.Context, msg ChangeMessage) error) error {
	nb.logger.Printf("Change stream %s:%s not available (Redis disabled)", group, consumer)
	<-ctx.Done()
	return ctx.Err()
}

// DropGroup is a no-op for null bus
func (nb *NullBus) DropGroup(ctx context.Context, group string) error {
	return nil
}

// GetStats returns empty stats for null bus
func (nb *NullBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":   "null",
		"status": "disabled",
	}, nil
}

// HealthCheck always returns nil for null bus
func (nb *NullBus) HealthCheck(ctx context.Context) error {
	return nil
}
