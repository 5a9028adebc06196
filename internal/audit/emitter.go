package audit

import (
	"context"
	"log/slog"
	"time"
)

// Config configures audit emission.
type Config struct {
	Enabled   bool
	Endpoint  string // POST target; empty writes files only
	BackupDir string
}

// Event is the summary the copier hands to an Emitter.
type Event struct {
	Dataset          string
	IntervalStart    time.Time
	IntervalEnd      time.Time
	Key              string
	URI              string
	Checksum         string
	RowCount         int64
	ByteSize         int64
	ReplacedExisting bool
	Unchanged        bool
	Producer         ProducerInfo
}

// Emitter is the interface for audit event emission.
type Emitter interface {
	EmitPartition(ctx context.Context, evt Event) error
	Close() error
}

// NewEmitter creates an appropriate emitter based on configuration.
func NewEmitter(cfg Config) Emitter {
	if !cfg.Enabled {
		return &noopEmitter{}
	}

	if cfg.Endpoint != "" {
		emitter, err := NewHTTPEmitter(cfg)
		if err != nil {
			slog.Warn("failed to create HTTP audit emitter, falling back to file-only", "error", err)
			return createFileOnlyEmitter(cfg)
		}
		slog.Info("audit events enabled", "endpoint", cfg.Endpoint)
		return &httpEmitterWrapper{emitter: emitter}
	}

	return createFileOnlyEmitter(cfg)
}

func createFileOnlyEmitter(cfg Config) Emitter {
	emitter, err := NewFileOnlyEmitter(cfg.BackupDir)
	if err != nil {
		slog.Warn("failed to create file audit emitter, audit disabled", "error", err)
		return &noopEmitter{}
	}
	slog.Info("audit events enabled", "dir", cfg.BackupDir)
	return &fileOnlyEmitterWrapper{emitter: emitter}
}

type httpEmitterWrapper struct {
	emitter *HTTPEmitter
}

func (w *httpEmitterWrapper) EmitPartition(ctx context.Context, evt Event) error {
	e := toPartitionEvent(evt)
	return w.emitter.Emit(ctx, &e)
}

func (w *httpEmitterWrapper) Close() error {
	return w.emitter.Close()
}

type fileOnlyEmitterWrapper struct {
	emitter *FileOnlyEmitter
}

func (w *fileOnlyEmitterWrapper) EmitPartition(_ context.Context, evt Event) error {
	e := toPartitionEvent(evt)
	return w.emitter.Emit(&e)
}

func (w *fileOnlyEmitterWrapper) Close() error {
	return w.emitter.Close()
}

func toPartitionEvent(evt Event) PartitionEvent {
	return PartitionEvent{
		Partition: PartitionInfo{
			Dataset:       evt.Dataset,
			IntervalStart: evt.IntervalStart.UTC(),
			IntervalEnd:   evt.IntervalEnd.UTC(),
		},
		Object: ObjectInfo{
			Key:              evt.Key,
			URI:              evt.URI,
			Checksum:         evt.Checksum,
			RowCount:         evt.RowCount,
			ByteSize:         evt.ByteSize,
			ReplacedExisting: evt.ReplacedExisting,
			Unchanged:        evt.Unchanged,
		},
		Producer: evt.Producer,
	}
}

type noopEmitter struct{}

func (n *noopEmitter) EmitPartition(_ context.Context, _ Event) error {
	return nil
}

func (n *noopEmitter) Close() error {
	return nil
}
