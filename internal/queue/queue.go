// Package queue buffers work for background workers. Two backends share one
// interface: an in-process channel queue and a Redis list that survives
// restarts and can be drained by several gateway replicas.
//
// Items are serialized to JSON on Enqueue, so both backends hand
// json.RawMessage values back to the consumer.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Queue defines the interface for message queuing
type Queue interface {
	// Enqueue adds an item to the queue
	Enqueue(ctx context.Context, item any) error

	// Dequeue retrieves items from the queue (up to maxItems)
	// Blocks until at least one item is available or context is cancelled
	Dequeue(ctx context.Context, maxItems int) ([]json.RawMessage, error)

	// DequeueWithTimeout retrieves items with a timeout
	// Returns items if available before timeout, empty slice otherwise
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]json.RawMessage, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue gracefully
	Close() error
}

// Config holds queue configuration
type Config struct {
	// Capacity bounds the in-memory buffer. Enqueue fails fast with
	// ErrQueueFull once it is reached.
	Capacity int

	// BatchSize is the maximum number of items handed out per dequeue
	BatchSize int

	// BatchTimeout is how long a worker waits for the first item
	BatchTimeout time.Duration

	// QueueName is the name/key for the queue
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		Capacity:     100,
		BatchSize:    10,
		BatchTimeout: time.Second,
		QueueName:    queueName,
	}
}

func serializeItem(item any) (json.RawMessage, error) {
	if raw, ok := item.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(item)
}
