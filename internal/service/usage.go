package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/faucetdb/keysmith/internal/model"
	"github.com/faucetdb/keysmith/internal/telemetry"
)

// DefaultUsageBuffer is the number of usage entries queued before new ones
// are dropped.
const DefaultUsageBuffer = 1024

// UsageRecorder appends usage log entries off the request path. Record never
// blocks; when the queue is full the entry is dropped and counted.
type UsageRecorder struct {
	store   CredentialStore
	timeout time.Duration
	logger  *slog.Logger
	queue   chan *model.UsageLogEntry

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewUsageRecorder creates a recorder. Call Start to begin draining.
func NewUsageRecorder(store CredentialStore, buffer int, timeout time.Duration, logger *slog.Logger) *UsageRecorder {
	if buffer <= 0 {
		buffer = DefaultUsageBuffer
	}
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageRecorder{
		store:   store,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan *model.UsageLogEntry, buffer),
	}
}

// Start begins the background writer. Non-blocking.
func (r *UsageRecorder) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for entry := range r.queue {
			r.write(entry)
		}
	}()
}

// Record enqueues entry.
func (r *UsageRecorder) Record(entry *model.UsageLogEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.queue <- entry:
	default:
		telemetry.UsageLogDropped.Inc()
		r.logger.Warn("usage log buffer full, dropping entry", "category", entry.Category)
	}
}

// Shutdown stops accepting entries and waits for queued ones to be written.
func (r *UsageRecorder) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *UsageRecorder) write(entry *model.UsageLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.AppendUsageLog(ctx, entry); err != nil {
		telemetry.UsageLogDropped.Inc()
		r.logger.Warn("append usage log failed", "category", entry.Category, "error", err)
	}
}
