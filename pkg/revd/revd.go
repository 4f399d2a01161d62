// Package revd is the public API of the revd continuous-recording
// storage engine: one `Instance` per camera, backed by a fixed-size
// `.rvd` storage file and a sibling `.sdb` segment ledger (spec §1-§9).
package revd

import (
	"context"

	"go.uber.org/zap"

	"github.com/iamNilotpal/revd/internal/engine"
	"github.com/iamNilotpal/revd/internal/ledger"
	"github.com/iamNilotpal/revd/internal/storage"
	"github.com/iamNilotpal/revd/internal/storage/reader"
	"github.com/iamNilotpal/revd/pkg/logger"
	"github.com/iamNilotpal/revd/pkg/options"
)

// Re-export the shared domain types so callers only need to import
// this package.
type (
	MediaKind    = storage.MediaKind
	Frame        = storage.Frame
	WriteContext = storage.WriteContext
	QueryFrame   = reader.QueryFrame
	Segment      = ledger.Segment
)

const (
	MediaVideo = storage.MediaVideo
	MediaAudio = storage.MediaAudio
	MediaAll   = storage.MediaAll
)

// NewWriteContext builds the codec-string bundle recorded into every
// ind block a writer initializes for its session.
func NewWriteContext(videoCodecName, videoCodecParams, audioCodecName, audioCodecParams string) WriteContext {
	return storage.NewWriteContext(videoCodecName, videoCodecParams, audioCodecName, audioCodecParams)
}

// Instance is one open camera recording: its storage file, its
// segment ledger, and the configuration applied to both.
type Instance struct {
	engine  *engine.Engine
	options *options.Options
}

// Open opens (allocating on first use) the recording identified by
// name under the configured data directory.
func Open(ctx context.Context, name string, opts ...options.OptionFunc) (*Instance, error) {
	return open(ctx, name, logger.New(name), opts...)
}

// open is Open's shared implementation, taking the root logger
// explicitly so tests can substitute logger.Nop() for the production
// sink built by logger.New.
func open(ctx context.Context, name string, log *zap.SugaredLogger, opts ...options.OptionFunc) (*Instance, error) {
	defaultOpts := options.NewDefaultOptions()
	for _, opt := range opts {
		opt(&defaultOpts)
	}

	eng, err := engine.New(ctx, &engine.Config{Name: name, Logger: log, Options: &defaultOpts})
	if err != nil {
		return nil, err
	}

	return &Instance{engine: eng, options: &defaultOpts}, nil
}

// CreateWriteContext sets the codec metadata this instance's writer
// stamps into every newly claimed ind block (spec §4.4).
func (i *Instance) CreateWriteContext(wctx WriteContext) error {
	return i.engine.CreateWriteContext(wctx)
}

// WriteFrame appends one elementary-stream frame to the recording
// (spec §4.4).
func (i *Instance) WriteFrame(ctx context.Context, frame Frame) error {
	return i.engine.WriteFrame(ctx, frame)
}

// Finalize drains the GOP buffer and closes the live segment, without
// closing the instance (spec §4.4). Call this to end a recording
// session cleanly while keeping the instance open for queries.
func (i *Instance) Finalize(ctx context.Context) error {
	return i.engine.Finalize(ctx)
}

// RemoveBlocks deletes the blocks covering [startTs, endTs) and
// returns how many blocks were freed (spec §4.6).
func (i *Instance) RemoveBlocks(ctx context.Context, startTs, endTs int64) (int, error) {
	return i.engine.RemoveBlocks(ctx, startTs, endTs)
}

// Query returns every frame of mediaKind recorded in [startTs, endTs)
// (spec §4.5).
func (i *Instance) Query(ctx context.Context, startTs, endTs int64, mediaKind MediaKind) ([]QueryFrame, error) {
	return i.engine.Query(ctx, startTs, endTs, mediaKind)
}

// QueryKey returns the first key frame of mediaKind at or after ts
// (spec §4.5).
func (i *Instance) QueryKey(ctx context.Context, ts int64, mediaKind MediaKind) (QueryFrame, error) {
	return i.engine.QueryKey(ctx, ts, mediaKind)
}

// KeyFrameStartTimes returns every key-frame timestamp of mediaKind in
// [startTs, endTs) (spec §4.5).
func (i *Instance) KeyFrameStartTimes(ctx context.Context, startTs, endTs int64, mediaKind MediaKind) ([]int64, error) {
	return i.engine.KeyFrameStartTimes(ctx, startTs, endTs, mediaKind)
}

// QuerySegments returns the ledger's recorded ranges overlapping
// [startTs, endTs) (spec §4.5).
func (i *Instance) QuerySegments(ctx context.Context, startTs, endTs int64) ([]Segment, error) {
	return i.engine.QuerySegments(ctx, startTs, endTs)
}

// FirstTs returns the recording's earliest timestamp, and false if
// nothing has been written yet.
func (i *Instance) FirstTs() (int64, bool, error) {
	return i.engine.FirstTs()
}

// LastTs returns the recording's latest timestamp, and false if
// nothing has been written yet.
func (i *Instance) LastTs() (int64, bool, error) {
	return i.engine.LastTs()
}

// Close shuts down the instance, releasing the storage file, its
// advisory lock, and the ledger handle. It does not call Finalize:
// buffered GOPs are dropped and a live segment stays open until it is
// recovered at the next open.
func (i *Instance) Close(ctx context.Context) error {
	return i.engine.Close()
}
