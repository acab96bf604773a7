// Package notifier delivers transfer completion signals to the external
// notification service. Delivery is asynchronous and best-effort: the
// engine enqueues after commit and never waits for the outcome. The
// notifier owns its own bounded retries.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"wallet-engine/pkg/engine"
	"wallet-engine/pkg/logging"
	"wallet-engine/pkg/metrics"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Errors returned by the notifier.
var (
	// ErrQueueFull is returned when the queue is full and MaxWaitTime
	// elapsed before a slot opened.
	ErrQueueFull = errors.New("notifier: queue full, notification dropped")

	// ErrNotifierClosed is returned when enqueueing after Close.
	ErrNotifierClosed = errors.New("notifier: notifier is closed")
)

// Config holds the notifier configuration.
type Config struct {
	// BaseURL of the notification service; POST {BaseURL}/notify.
	BaseURL string

	// Retries is the number of delivery attempts per notification.
	Retries int

	// RetryBackoff is the fixed wait between delivery attempts.
	RetryBackoff time.Duration

	// Timeout is the per-attempt HTTP ceiling.
	Timeout time.Duration

	// QueueSize bounds the pending-notification queue.
	QueueSize int

	// Workers is the number of concurrent delivery workers.
	Workers int

	// MaxWaitTime is how long an enqueue waits on a full queue before
	// dropping.
	MaxWaitTime time.Duration

	// DedupeExpectedItems sizes the duplicate-suppression filter.
	DedupeExpectedItems uint
}

// DefaultConfig returns default notifier configuration.
func DefaultConfig() Config {
	return Config{
		Retries:             3,
		RetryBackoff:        100 * time.Millisecond,
		Timeout:             5 * time.Second,
		QueueSize:           1000,
		Workers:             2,
		MaxWaitTime:         10 * time.Millisecond,
		DedupeExpectedItems: 100000,
	}
}

// Notifier implements engine.Notifier with a bounded queue and a worker
// pool. A probabilistic filter over ledger ids suppresses duplicate
// deliveries; a false positive only skips one best-effort signal.
type Notifier struct {
	http       *http.Client
	queue      chan engine.TransferNotification
	config     Config
	logger     *logging.Logger
	metrics    metrics.MetricsCollector
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc

	seenMu sync.Mutex
	seen   *bloom.BloomFilter

	// Statistics (accessed atomically)
	enqueued  int64
	dropped   int64
	delivered int64
	failed    int64

	depthTicker *time.Ticker
	depthStop   chan struct{}
}

// New creates a notifier and starts its worker pool. Callers must Close
// it to drain the queue on shutdown.
func New(config Config, logger *logging.Logger, collector metrics.MetricsCollector) *Notifier {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.Retries <= 0 {
		config.Retries = 3
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = 10 * time.Millisecond
	}
	if config.DedupeExpectedItems == 0 {
		config.DedupeExpectedItems = 100000
	}

	ctx, cancel := context.WithCancel(context.Background())

	n := &Notifier{
		http:        &http.Client{Timeout: config.Timeout},
		queue:       make(chan engine.TransferNotification, config.QueueSize),
		config:      config,
		logger:      logger.Named("notifier"),
		metrics:     collector,
		ctx:         ctx,
		cancelFunc:  cancel,
		seen:        bloom.NewWithEstimates(config.DedupeExpectedItems, 0.01),
		depthTicker: time.NewTicker(5 * time.Second),
		depthStop:   make(chan struct{}),
	}

	for i := 0; i < config.Workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
	go n.reportDepth()

	return n
}

// NotifyTransferCompleted enqueues one completion signal. It waits up
// to MaxWaitTime on a full queue before dropping the notification.
func (n *Notifier) NotifyTransferCompleted(ctx context.Context, tn engine.TransferNotification) error {
	select {
	case <-n.ctx.Done():
		return ErrNotifierClosed
	default:
	}

	timer := time.NewTimer(n.config.MaxWaitTime)
	defer timer.Stop()

	select {
	case n.queue <- tn:
		atomic.AddInt64(&n.enqueued, 1)
		return nil
	case <-timer.C:
		atomic.AddInt64(&n.dropped, 1)
		n.metrics.RecordNotificationDropped()
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	case <-n.ctx.Done():
		return ErrNotifierClosed
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case tn, ok := <-n.queue:
			if !ok {
				return
			}
			n.process(tn)
		case <-n.ctx.Done():
			// Drain what is already queued before exiting.
			for {
				select {
				case tn, ok := <-n.queue:
					if !ok {
						return
					}
					n.process(tn)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) process(tn engine.TransferNotification) {
	if tn.Transaction != nil && n.alreadySent(tn.Transaction.ID) {
		n.logger.Debug("duplicate notification suppressed",
			zap.Int64("transaction_id", tn.Transaction.ID),
		)
		return
	}

	deliveryID := uuid.New().String()
	start := time.Now()
	err := n.deliverWithRetry(tn)
	duration := time.Since(start)

	n.metrics.RecordNotification(err == nil, duration)
	if err != nil {
		atomic.AddInt64(&n.failed, 1)
		n.logger.Error("notification delivery failed",
			zap.String("delivery_id", deliveryID),
			zap.Int64("recipient_id", tn.RecipientAccountID),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}

	atomic.AddInt64(&n.delivered, 1)
	n.logger.Info("notification delivered",
		zap.String("delivery_id", deliveryID),
		zap.Int64("recipient_id", tn.RecipientAccountID),
		zap.Duration("duration", duration),
	)
}

// alreadySent tests and marks the ledger id in one step.
func (n *Notifier) alreadySent(transactionID int64) bool {
	key := []byte(strconv.FormatInt(transactionID, 10))
	n.seenMu.Lock()
	defer n.seenMu.Unlock()
	return n.seen.TestOrAdd(key)
}

func (n *Notifier) deliverWithRetry(tn engine.TransferNotification) error {
	var lastErr error
	for attempt := 1; attempt <= n.config.Retries; attempt++ {
		if attempt > 1 {
			time.Sleep(n.config.RetryBackoff)
		}
		if err := n.deliver(tn); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("delivery attempts exhausted: %w", lastErr)
}

func (n *Notifier) deliver(tn engine.TransferNotification) error {
	payload, err := json.Marshal(map[string]interface{}{
		"user_id": tn.RecipientAccountID,
		"message": tn.Message,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.BaseURL+"/notify", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("notify request: %w", err)
	}
	defer resp.Body.Close()

	// Only an explicit no-content acknowledgement counts as delivered.
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected response status %d", resp.StatusCode)
	}
	return nil
}

// Flush waits until the queue is empty or the timeout elapses.
func (n *Notifier) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for len(n.queue) > 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("notifier: flush timeout with %d pending", len(n.queue))
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// Close stops accepting notifications, drains the queue and waits for
// the workers to finish.
func (n *Notifier) Close() error {
	close(n.depthStop)
	n.depthTicker.Stop()
	n.cancelFunc()
	n.wg.Wait()
	return nil
}

func (n *Notifier) reportDepth() {
	for {
		select {
		case <-n.depthTicker.C:
			n.metrics.RecordQueueDepth(len(n.queue))
		case <-n.depthStop:
			return
		}
	}
}

// Stats reports current notifier counters.
type Stats struct {
	QueueDepth int
	Enqueued   int64
	Dropped    int64
	Delivered  int64
	Failed     int64
}

// Stats returns a snapshot of the notifier's counters.
func (n *Notifier) Stats() Stats {
	return Stats{
		QueueDepth: len(n.queue),
		Enqueued:   atomic.LoadInt64(&n.enqueued),
		Dropped:    atomic.LoadInt64(&n.dropped),
		Delivered:  atomic.LoadInt64(&n.delivered),
		Failed:     atomic.LoadInt64(&n.failed),
	}
}
