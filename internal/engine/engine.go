// Package engine provides the core recording engine for one camera's
// storage file: it wires the allocator, the block/ledger handles, and
// the storage writer and reader into a single coordinator (spec §4).
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/iamNilotpal/revd/internal/allocator"
	"github.com/iamNilotpal/revd/internal/ledger"
	"github.com/iamNilotpal/revd/internal/storage"
	"github.com/iamNilotpal/revd/internal/storage/reader"
	"github.com/iamNilotpal/revd/internal/storage/writer"
	"github.com/iamNilotpal/revd/pkg/filesys"
	"github.com/iamNilotpal/revd/pkg/logger"
	"github.com/iamNilotpal/revd/pkg/options"
)

// ErrEngineClosed is returned when attempting to perform operations on a closed engine.
var ErrEngineClosed = errors.New("operation failed: cannot access closed engine")

// Config holds the parameters needed to initialize a new Engine.
type Config struct {
	// Name identifies the camera/recording this engine serves; the
	// `<name>.rvd`/`<name>.sdb` file pair is resolved under
	// Options.DataDir.
	Name    string
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// Engine coordinates one storage file's writer and reader, sharing a
// single ledger handle between them (each ledger call opens its own
// short-lived connection), plus the allocator used the first time the
// file is opened.
type Engine struct {
	options *options.Options
	log     *zap.SugaredLogger
	closed  atomic.Bool

	writer *writer.Writer
	reader *reader.Reader
	ledger *ledger.Ledger
}

func paths(dataDir, name string) (rvdPath, sdbPath string) {
	return filepath.Join(dataDir, name+".rvd"), filepath.Join(dataDir, name+".sdb")
}

// New opens (allocating on first use) the storage file and ledger for
// Config.Name, and wires up a writer and a reader sharing the ledger
// handle.
func New(ctx context.Context, config *Config) (*Engine, error) {
	if err := filesys.CreateDir(config.Options.DataDir, 0755, true); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	rvdPath, sdbPath := paths(config.Options.DataDir, config.Name)

	exists, err := filesys.Exists(rvdPath)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := allocator.Allocate(rvdPath, config.Options.BlockSize, config.Options.NumBlocks); err != nil {
			return nil, err
		}
	}

	led, err := ledger.Open(sdbPath, config.Options, logger.Component(config.Logger, "ledger"))
	if err != nil {
		return nil, err
	}

	w, err := writer.Open(ctx, rvdPath, led, config.Options, logger.Component(config.Logger, "writer"))
	if err != nil {
		led.Close()
		return nil, err
	}

	r, err := reader.Open(rvdPath, led)
	if err != nil {
		w.Close()
		led.Close()
		return nil, err
	}

	return &Engine{options: config.Options, log: config.Logger, writer: w, reader: r, ledger: led}, nil
}

// CreateWriteContext records the codec strings this writer carries
// into every ind block it initializes from here on.
func (e *Engine) CreateWriteContext(wctx storage.WriteContext) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	e.writer.SetWriteContext(wctx)
	return nil
}

// WriteFrame appends one elementary-stream frame (spec §4.4).
func (e *Engine) WriteFrame(ctx context.Context, frame storage.Frame) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.writer.WriteFrame(ctx, frame)
}

// Finalize drains the GOP buffer and closes the live ledger segment
// (spec §4.4).
func (e *Engine) Finalize(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.writer.Finalize(ctx)
}

// RemoveBlocks deletes the blocks covering [startTs, endTs) (spec §4.6).
func (e *Engine) RemoveBlocks(ctx context.Context, startTs, endTs int64) (int, error) {
	if e.closed.Load() {
		return 0, ErrEngineClosed
	}
	return e.writer.RemoveBlocks(ctx, startTs, endTs)
}

// Query returns every frame of mediaKind in [startTs, endTs) (spec §4.5).
func (e *Engine) Query(ctx context.Context, startTs, endTs int64, mediaKind storage.MediaKind) ([]reader.QueryFrame, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return e.reader.Query(ctx, startTs, endTs, mediaKind)
}

// QueryKey returns the first key frame of mediaKind at or after ts (spec §4.5).
func (e *Engine) QueryKey(ctx context.Context, ts int64, mediaKind storage.MediaKind) (reader.QueryFrame, error) {
	if e.closed.Load() {
		return reader.QueryFrame{}, ErrEngineClosed
	}
	return e.reader.QueryKey(ctx, ts, mediaKind)
}

// KeyFrameStartTimes returns every key-frame timestamp of mediaKind in
// [startTs, endTs) (spec §4.5).
func (e *Engine) KeyFrameStartTimes(ctx context.Context, startTs, endTs int64, mediaKind storage.MediaKind) ([]int64, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return e.reader.KeyFrameStartTimes(ctx, startTs, endTs, mediaKind)
}

// QuerySegments returns the ledger's recorded ranges overlapping
// [startTs, endTs) (spec §4.5).
func (e *Engine) QuerySegments(ctx context.Context, startTs, endTs int64) ([]ledger.Segment, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return e.reader.QuerySegments(ctx, startTs, endTs)
}

// FirstTs returns the file's earliest recorded timestamp.
func (e *Engine) FirstTs() (int64, bool, error) {
	if e.closed.Load() {
		return 0, false, ErrEngineClosed
	}
	return e.reader.FirstTs()
}

// LastTs returns the file's latest recorded timestamp.
func (e *Engine) LastTs() (int64, bool, error) {
	if e.closed.Load() {
		return 0, false, ErrEngineClosed
	}
	return e.reader.LastTs()
}

// Close shuts down the engine, releasing the writer's and reader's file
// resources and the shared ledger handle. It does not call Finalize:
// GOPs still buffered in the writer are dropped and a live ledger
// segment stays open (end_ts = 0); callers wanting a clean end of
// recording call Finalize first.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}

	var firstErr error
	if err := e.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.reader.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.ledger.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
