package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisBus provides Redis Streams-based change notifications
type RedisBus struct {
	client     *redis.Client
	logger     *log.Logger
	retryDelay time.Duration
}

// StreamMessage represents a message in a Redis Stream
type StreamMessage struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// StreamHandler is a function that processes stream messages
type StreamHandler func(ctx context.Context, message StreamMessage) error

// NewRedisBus creates a new Redis bus instance
func NewRedisBus(redisURL string, logger *log.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger == nil {
		logger = log.New(log.Writer(), "[RedisBus] ", log.LstdFlags)
	}

	return &RedisBus{
		client:     client,
		logger:     logger,
		retryDelay: 5 * time.Second,
	}, nil
}

// Close closes the Redis connection
func (rb *RedisBus) Close() error {
	return rb.client.Close()
}

// PublishChange publishes a change to the dataset_changes stream
func (rb *RedisBus) PublishChange(ctx context.Context, msg ChangeMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	fields := map[string]interface{}{
		"dataset_id": msg.DatasetID,
		"action":     msg.Action,
		"row_id":     msg.RowID,
		"undo_depth": msg.UndoDepth,
		"origin":     msg.Origin,
		"timestamp":  msg.Timestamp,
	}

	result := rb.client.XAdd(ctx, &redis.XAddArgs{
		Stream: ChangesStream,
		Values: fields,
	})

	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// EnsureGroup creates a consumer group that only sees messages added from now on.
// An existing group is left untouched.
func (rb *RedisBus) EnsureGroup(ctx context.Context, stream, group string) error {
	result := rb.client.XGroupCreateMkStream(ctx, stream, group, "$")
	if err := result.Err(); err != nil {
		if !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group %s for stream %s: %w", group, stream, err)
		}
	}
	return nil
}

// DropGroup removes the consumer group from the changes stream
func (rb *RedisBus) DropGroup(ctx context.Context, group string) error {
	if err := rb.client.XGroupDestroy(ctx, ChangesStream, group).Err(); err != nil {
		return fmt.Errorf("failed to drop consumer group %s: %w", group, err)
	}
	return nil
}

// ReadStream reads messages from a stream using consumer groups
func (rb *RedisBus) ReadStream(ctx context.Context, stream, group, consumer string, handler StreamHandler) error {
	if err := rb.EnsureGroup(ctx, stream, group); err != nil {
		return err
	}

	rb.logger.Printf("Starting stream reader for %s (group: %s, consumer: %s)", stream, group, consumer)

	for {
		select {
		case <-ctx.Done():
			rb.logger.Printf("Stream reader for %s stopping due to context cancellation", stream)
			return ctx.Err()
		default:
		}

		result := rb.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    1 * time.Second,
		})

		if err := result.Err(); err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			rb.logger.Printf("Error reading from stream %s: %v", stream, err)
			select {
			case <-ctx.Done():
			case <-time.After(rb.retryDelay):
			}
			continue
		}

		for _, xs := range result.Val() {
			for _, message := range xs.Messages {
				streamMsg := StreamMessage{
					ID:     message.ID,
					Fields: make(map[string]string, len(message.Values)),
				}
				for key, value := range message.Values {
					if strValue, ok := value.(string); ok {
						streamMsg.Fields[key] = strValue
					}
				}

				if err := handler(ctx, streamMsg); err != nil {
					rb.logger.Printf("Error processing message %s: %v", message.ID, err)
					continue
				}

				if err := rb.client.XAck(ctx, xs.Stream, group, message.ID).Err(); err != nil {
					rb.logger.Printf("Error acknowledging message %s: %v", message.ID, err)
				}
			}
		}
	}
}

// ReadChanges reads from the dataset_changes stream
func (rb *RedisBus) ReadChanges(ctx context.Context, group, consumer string, handler func(ctx context.Context, msg ChangeMessage) error) error {
	streamHandler := func(ctx context.Context, message StreamMessage) error {
		msg := ChangeMessage{
			DatasetID: message.Fields["dataset_id"],
			Action:    message.Fields["action"],
			Origin:    message.Fields["origin"],
		}
		if v := message.Fields["row_id"]; v != "" {
			msg.RowID, _ = strconv.ParseInt(v, 10, 64)
		}
		if v := message.Fields["undo_depth"]; v != "" {
			msg.UndoDepth, _ = strconv.Atoi(v)
		}
		if ts, err := parseTimestamp(message.Fields["timestamp"]); err == nil {
			msg.Timestamp = ts
		}
		return handler(ctx, msg)
	}

	return rb.ReadStream(ctx, ChangesStream, group, consumer, streamHandler)
}

// TrimChanges caps the length of the changes stream
func (rb *RedisBus) TrimChanges(ctx context.Context, maxLen int64) error {
	if err := rb.client.XTrimMaxLen(ctx, ChangesStream, maxLen).Err(); err != nil {
		return fmt.Errorf("failed to trim stream %s: %w", ChangesStream, err)
	}
	return nil
}

// parseTimestamp parses a timestamp string to int64
func parseTimestamp(timestamp string) (int64, error) {
	if timestamp == "" {
		return time.Now().Unix(), nil
	}

	// Try numeric epoch (seconds or milliseconds)
	if n, err := strconv.ParseInt(timestamp, 10, 64); err == nil {
		// 13+ digits are milliseconds
		if n > 1_000_000_000_000 {
			return n / 1000, nil
		}
		return n, nil
	}

	if ts, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
		return ts.Unix(), nil
	}

	return time.Now().Unix(), fmt.Errorf("unable to parse timestamp: %s", timestamp)
}

// HealthCheck performs a health check on the Redis connection
func (rb *RedisBus) HealthCheck(ctx context.Context) error {
	return rb.client.Ping(ctx).Err()
}

// GetStats returns basic statistics about the changes stream
func (rb *RedisBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{"type": "redis"}

	length, err := rb.client.XLen(ctx, ChangesStream).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get stream length: %w", err)
	}
	stats["changes_stream_length"] = length

	if groups, err := rb.client.XInfoGroups(ctx, ChangesStream).Result(); err == nil {
		stats["changes_consumer_groups"] = len(groups)
	}

	return stats, nil
}
