package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// HTTPEmitter sends events to an HTTP endpoint, keeping a local backup.
type HTTPEmitter struct {
	mu           sync.Mutex
	endpoint     string
	client       *http.Client
	chainTracker *ChainTracker
	backup       *FileBackup
	retries      int
	retryDelay   time.Duration
}

// NewHTTPEmitter creates a new HTTP emitter.
func NewHTTPEmitter(cfg Config) (*HTTPEmitter, error) {
	chainTracker, err := NewChainTracker(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}

	backup, err := NewFileBackup(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	return &HTTPEmitter{
		endpoint: cfg.Endpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		chainTracker: chainTracker,
		backup:       backup,
		retries:      3,
		retryDelay:   time.Second,
	}, nil
}

// Emit chains the event, backs it up locally and POSTs it.
// The chain head only advances once the POST succeeds.
func (e *HTTPEmitter) Emit(ctx context.Context, evt *PartitionEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	chainKey := evt.Partition.ChainKey()

	prev, err := e.chainTracker.Head(chainKey)
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}

	stamp(evt)
	if err == nil {
		evt.Link(&prev)
	} else {
		evt.Link(nil)
	}

	log := slog.With("component", "audit", "chain", chainKey)
	log.Debug("emitting event",
		"sequence", evt.Chain.Sequence,
		"prev_hash", evt.Chain.PrevEventHash,
		"event_hash", evt.Chain.EventHash,
	)

	// Backup first; the POST is the primary path.
	if err := e.backup.Save(evt); err != nil {
		log.Warn("audit backup failed", "error", err)
	}

	if err := e.postWithRetry(ctx, evt); err != nil {
		return fmt.Errorf("audit emit failed: %w", err)
	}

	if err := e.chainTracker.Advance(evt); err != nil {
		log.Warn("failed to update audit chain head", "error", err)
	}

	return nil
}

func (e *HTTPEmitter) postWithRetry(ctx context.Context, evt *PartitionEvent) error {
	var lastErr error
	delay := e.retryDelay

	for attempt := 1; attempt <= e.retries; attempt++ {
		err := e.post(ctx, evt)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < e.retries {
			slog.Warn("audit POST failed, retrying",
				"attempt", attempt, "max", e.retries, "error", err, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", e.retries, lastErr)
}

func (e *HTTPEmitter) post(ctx context.Context, evt *PartitionEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

// Close releases resources.
func (e *HTTPEmitter) Close() error {
	return nil
}
