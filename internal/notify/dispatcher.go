package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wanz-bot/Api/internal/models"
	"github.com/wanz-bot/Api/internal/queue"
	"github.com/wanz-bot/Api/internal/utils"
)

// promptPreviewLen is how much of the prompt a usage notification shows.
const promptPreviewLen = 100

// publishTimeout bounds the enqueue on the request path.
const publishTimeout = 500 * time.Millisecond

// UsageEvent describes one successful inference call.
type UsageEvent struct {
	IP        string    `json:"ip"`
	Model     string    `json:"model"`
	Prompt    string    `json:"prompt"`
	Timestamp time.Time `json:"timestamp"`
}

// FormatUsage renders the admin notification for an event.
func FormatUsage(e UsageEvent) string {
	return fmt.Sprintf("📌 *AI USED*\nIP: %s\nModel: %s\nPrompt: %s...",
		e.IP, e.Model, models.Excerpt(e.Prompt, promptPreviewLen))
}

// Dispatcher delivers usage notifications from a queue in the background.
// Delivery is best effort: failed sends are logged and dropped.
type Dispatcher struct {
	queue       queue.Queue
	notifier    Notifier
	config      *queue.Config
	logger      *utils.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewDispatcher creates a dispatcher reading from q.
func NewDispatcher(q queue.Queue, notifier Notifier, config *queue.Config) *Dispatcher {
	if config == nil {
		config = queue.DefaultConfig("notify")
	}
	return &Dispatcher{
		queue:       q,
		notifier:    notifier,
		config:      config,
		logger:      utils.NewLogger("notify"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Publish queues an event without waiting for delivery. The enqueue is
// detached from ctx so a caller that hangs up after a successful call still
// produces its notification. A full, closed or slow queue drops the event.
func (d *Dispatcher) Publish(ctx context.Context, e UsageEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := d.queue.Enqueue(ctx, e); err != nil {
		d.logger.Debug("Dropping usage notification", "ip", e.IP, "error", err)
	}
}

// Start starts the worker goroutine
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

// Stop stops the worker and waits for the in-flight batch.
func (d *Dispatcher) Stop() error {
	close(d.stopChan)
	<-d.stoppedChan
	return nil
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.stoppedChan)

	for {
		select {
		case <-d.stopChan:
			d.logger.Info("Notification worker stopping")
			return
		case <-ctx.Done():
			d.logger.Info("Notification worker context cancelled")
			return
		default:
			d.processBatch(ctx)
		}
	}
}

func (d *Dispatcher) processBatch(ctx context.Context) {
	items, err := d.queue.DequeueWithTimeout(ctx, d.config.BatchSize, d.config.BatchTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		d.logger.Error("Failed to dequeue notifications", "error", err)
		select {
		case <-time.After(time.Second):
		case <-d.stopChan:
		case <-ctx.Done():
		}
		return
	}

	for _, item := range items {
		var e UsageEvent
		if err := json.Unmarshal(item, &e); err != nil {
			d.logger.Error("Failed to unmarshal usage event", "error", err)
			continue
		}
		if err := d.notifier.Notify(ctx, FormatUsage(e)); err != nil {
			d.logger.Debug("Usage notification failed", "ip", e.IP, "error", err)
		}
	}
}
