// Package writer implements the storage writer side of a recording
// file: GOP buffering, the 20-second flush gate, claiming blocks from
// the dumbdex, and the transactional block-granularity delete (spec
// §4.4, §4.6).
package writer

import (
	"context"
	"sync"

	mmap "github.com/edsrzf/mmap-go"
	"go.uber.org/zap"

	"github.com/iamNilotpal/revd/internal/dumbdex"
	"github.com/iamNilotpal/revd/internal/indblock"
	"github.com/iamNilotpal/revd/internal/ledger"
	"github.com/iamNilotpal/revd/internal/relblock"
	"github.com/iamNilotpal/revd/internal/storage"
	"github.com/iamNilotpal/revd/internal/storage/block"
	revderrors "github.com/iamNilotpal/revd/pkg/errors"
	"github.com/iamNilotpal/revd/pkg/options"
)

// gopEntry is one in-RAM GOP accumulating frames before it is flushed
// to an ind block. insertSeq breaks ties between GOPs sharing a
// first_ts so "most recently inserted" is well defined.
type gopEntry struct {
	kind      storage.MediaKind
	firstTs   int64
	complete  bool
	builder   *relblock.Builder
	insertSeq int64
}

// Writer drives write_frame / finalize / remove_blocks against one
// open storage file and its sibling ledger (spec §4.4, §4.6).
type Writer struct {
	mu sync.Mutex

	file    *block.File
	dumbdex *dumbdex.Dumbdex
	ledger  *ledger.Ledger
	opts    *options.Options
	log     *zap.SugaredLogger

	writeCtx    storage.WriteContext
	gopBuffer   []*gopEntry
	insertSeq   int64
	segmentID   int64
	segmentOpen bool
	lastTs      int64
	lastTsSet   bool

	curBlockNo uint16
	curRegion  mmap.MMap
	curBlock   *indblock.Block
}

func streamID(kind storage.MediaKind) uint8 {
	if kind == storage.MediaAudio {
		return 1
	}
	return 0
}

// Open opens an existing storage file for writing against an
// already-open ledger handle. If opts.FixLiveSegmentOnOpen is
// set, it runs the open-time recovery step: closing any segment row
// an unclean shutdown left live, and reconciling any dumbdex entries
// the ledger no longer covers (spec §4.6's crash-recovery note).
func Open(ctx context.Context, rvdPath string, led *ledger.Ledger, opts *options.Options, log *zap.SugaredLogger) (*Writer, error) {
	f, err := block.Open(rvdPath, true)
	if err != nil {
		return nil, err
	}

	dd := dumbdex.Open(f.Block0Dumbdex(), f.NumBlocks)

	w := &Writer{file: f, dumbdex: dd, ledger: led, opts: opts, log: log}

	if opts.FixLiveSegmentOnOpen {
		if err := w.recoverOnOpen(ctx); err != nil {
			w.Close()
			return nil, err
		}
	}

	return w, nil
}

// recoverOnOpen implements spec §4.6's open-time recovery: determine
// the file's observed last_ts (if any entry exists at all), close any
// live ledger row at that point, then drop any dumbdex entries the
// ledger no longer covers for.
func (w *Writer) recoverOnOpen(ctx context.Context) error {
	lastTs, present, err := w.observedLastTs()
	if err != nil {
		return err
	}
	if err := w.ledger.FixLiveSegment(ctx, lastTs, present); err != nil {
		return err
	}

	n := w.dumbdex.Len()
	if n == 0 {
		return nil
	}
	firstTsList := make([]int64, 0, n)
	for i := w.dumbdex.Begin(); i < w.dumbdex.End(); i++ {
		ts, _ := w.dumbdex.EntryAt(i)
		firstTsList = append(firstTsList, ts)
	}

	stale, err := w.ledger.ReconcileGaps(ctx, firstTsList)
	if err != nil {
		return err
	}
	for _, ts := range stale {
		w.dumbdex.Remove(ts)
	}
	return nil
}

// observedLastTs walks the highest-first_ts ind block to its last
// entry, then to that entry's last rel-block record, and returns that
// frame's timestamp. Returns present=false on an empty file.
func (w *Writer) observedLastTs() (int64, bool, error) {
	n := w.dumbdex.Len()
	if n == 0 {
		return 0, false, nil
	}
	_, blockNo := w.dumbdex.EntryAt(n - 1)

	region, err := w.file.MapIndBlock(blockNo, false)
	if err != nil {
		return 0, false, err
	}
	defer block.UnmapIndBlock(region)

	ib := indblock.Open(region)
	if ib.NValid() == 0 {
		return 0, false, nil
	}
	entry := ib.Entry(int(ib.NValid() - 1))
	records, err := relblock.Iterate(ib.Payload(entry), int(entry.Size))
	if err != nil || len(records) == 0 {
		return 0, false, err
	}
	return records[len(records)-1].Timestamp, true, nil
}

// SetWriteContext records the codec strings carried into every ind
// block this writer initializes from here on (spec §4.4's
// create_write_context).
func (w *Writer) SetWriteContext(ctx storage.WriteContext) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writeCtx = ctx
}

// stableInsert inserts g into the buffer in ascending first_ts order,
// after any existing entries with the same first_ts, preserving
// insertion order among equal timestamps.
func stableInsert(buf []*gopEntry, g *gopEntry) []*gopEntry {
	i := 0
	for i < len(buf) && buf[i].firstTs <= g.firstTs {
		i++
	}
	buf = append(buf, nil)
	copy(buf[i+1:], buf[i:])
	buf[i] = g
	return buf
}

// mostRecentIncomplete returns the incomplete GOP of kind with the
// largest insertSeq, or nil if none.
func mostRecentIncomplete(buf []*gopEntry, kind storage.MediaKind) *gopEntry {
	var best *gopEntry
	for _, g := range buf {
		if g.kind != kind || g.complete {
			continue
		}
		if best == nil || g.insertSeq > best.insertSeq {
			best = g
		}
	}
	return best
}

// bufferFull implements spec §4.4's flush predicate: the span between
// the earliest and latest buffered GOP's first_ts exceeds the
// configured window, and the earliest buffered GOP is complete.
func (w *Writer) bufferFull() bool {
	if len(w.gopBuffer) == 0 {
		return false
	}
	earliest := w.gopBuffer[0]
	if !earliest.complete {
		return false
	}

	minTs, maxTs := w.gopBuffer[0].firstTs, w.gopBuffer[0].firstTs
	for _, g := range w.gopBuffer {
		if g.firstTs < minTs {
			minTs = g.firstTs
		}
		if g.firstTs > maxTs {
			maxTs = g.firstTs
		}
	}
	return maxTs-minTs > w.opts.GopBufferWindow.Milliseconds()
}

// WriteFrame implements spec §4.4's write_frame: buffers frame into
// its GOP, enforces the per-GOP size invariant, then drains the
// buffer's earliest complete GOP for as long as it remains full.
func (w *Writer) WriteFrame(ctx context.Context, frame storage.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if frame.MediaKind != storage.MediaVideo && frame.MediaKind != storage.MediaAudio {
		return revderrors.NewValidationError(
			nil, revderrors.ErrorCodeInvalidMediaKind, "write_frame requires a video or audio frame",
		).WithField("mediaKind").WithProvided(frame.MediaKind.String())
	}

	if !w.segmentOpen {
		id, err := w.ledger.OpenSegment(ctx, frame.Timestamp)
		if err != nil {
			return err
		}
		w.segmentID = id
		w.segmentOpen = true
	}
	w.lastTs = frame.Timestamp
	w.lastTsSet = true

	var target *gopEntry
	if frame.Key {
		for _, g := range w.gopBuffer {
			if g.kind == frame.MediaKind {
				g.complete = true
			}
		}
		w.insertSeq++
		target = &gopEntry{
			kind:      frame.MediaKind,
			firstTs:   frame.Timestamp,
			builder:   relblock.NewBuilder(),
			insertSeq: w.insertSeq,
		}
		w.gopBuffer = stableInsert(w.gopBuffer, target)
	} else {
		target = mostRecentIncomplete(w.gopBuffer, frame.MediaKind)
		if target == nil {
			return revderrors.NewValidationError(
				nil, revderrors.ErrorCodeMissingKeyFrame, "non-key frame arrived with no open GOP",
			).WithField("mediaKind").WithProvided(frame.MediaKind.String())
		}
	}

	var flags uint8
	if frame.Key {
		flags = relblock.KeyFlag
	}
	prospective := target.builder.Len() + relblock.Size(len(frame.Data))
	if prospective > int(w.opts.BlockSize) {
		return revderrors.NewGopTooLargeError(int64(prospective), int64(w.opts.BlockSize))
	}
	target.builder.Append(frame.Data, frame.Timestamp, flags)

	for w.bufferFull() {
		if err := w.flushEarliest(ctx); err != nil {
			return err
		}
	}
	return nil
}

// flushEarliest claims (or reuses) an ind block for the buffer's
// earliest GOP and appends it, popping the GOP from the buffer.
func (w *Writer) flushEarliest(ctx context.Context) error {
	g := w.gopBuffer[0]
	payload := g.builder.Bytes()

	if w.curBlock == nil || !w.curBlock.Fits(len(payload)) {
		if err := w.claimBlock(ctx, g.firstTs); err != nil {
			return err
		}
	}

	if _, err := w.curBlock.Append(payload, streamID(g.kind), g.firstTs, true); err != nil {
		return err
	}

	w.gopBuffer = w.gopBuffer[1:]
	return nil
}

// claimBlock maps a fresh ind block via the dumbdex for firstTs,
// unmapping whatever block was previously current, and prunes
// reclaimed-past ledger rows once the new block is claimed and
// initialized.
func (w *Writer) claimBlock(ctx context.Context, firstTs int64) error {
	if w.curRegion != nil {
		block.UnmapIndBlock(w.curRegion)
		w.curRegion = nil
		w.curBlock = nil
	}

	blockNo, err := w.dumbdex.Insert(firstTs)
	if err != nil {
		return err
	}

	region, err := w.file.MapIndBlock(blockNo, true)
	if err != nil {
		return err
	}

	ib, err := indblock.Initialize(
		region, w.file.BlockSize, w.opts.IndEntriesPerBlock, firstTs,
		w.writeCtx.VideoCodecName, w.writeCtx.VideoCodecParams,
		w.writeCtx.AudioCodecName, w.writeCtx.AudioCodecParams,
	)
	if err != nil {
		block.UnmapIndBlock(region)
		return err
	}

	w.curBlockNo = blockNo
	w.curRegion = region
	w.curBlock = ib

	if w.dumbdex.Len() > 0 {
		oldestTs, _ := w.dumbdex.EntryAt(w.dumbdex.Begin())
		if err := w.ledger.PruneReclaimedPast(ctx, oldestTs); err != nil {
			return err
		}
	}
	return nil
}

// Finalize implements spec §4.4's finalize: closes the live ledger
// segment at the last observed timestamp, then drains every remaining
// buffered GOP without the 20-second gate, since no further followers
// are expected once a recording session ends.
func (w *Writer) Finalize(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.segmentOpen {
		if err := w.ledger.CloseSegment(ctx, w.segmentID, w.lastTs); err != nil {
			return err
		}
		w.segmentOpen = false
	}

	for _, g := range w.gopBuffer {
		g.complete = true
	}
	for len(w.gopBuffer) > 0 {
		if err := w.flushEarliest(ctx); err != nil {
			return err
		}
	}
	return w.file.Sync()
}

// RemoveBlocks implements spec §4.6's block-granularity delete: locate
// the block range covering [startTs, endTs), split/truncate the
// ledger's covering rows inside one transaction, then release the
// covered dumbdex entries back to the free list. Returns the number
// of blocks deleted.
func (w *Writer) RemoveBlocks(ctx context.Context, startTs, endTs int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	blockStart := w.dumbdex.FindLowerBound(startTs)
	blockEnd := w.dumbdex.FindLowerBound(endTs)
	if blockStart >= w.dumbdex.End() || blockEnd >= w.dumbdex.End() || blockStart == blockEnd {
		return 0, nil
	}

	var toDelete []int64
	for i := blockStart; i < blockEnd; i++ {
		ts, _ := w.dumbdex.EntryAt(i)
		toDelete = append(toDelete, ts)
	}
	effStart := toDelete[0]
	effEnd, _ := w.dumbdex.EntryAt(blockEnd)

	if err := w.ledger.RemoveBlocks(ctx, effStart, effEnd); err != nil {
		return 0, err
	}

	for _, ts := range toDelete {
		w.dumbdex.Remove(ts)
	}
	return len(toDelete), nil
}

// Close releases the writer's file resources without running
// finalize's drain logic or closing the shared ledger handle;
// callers that want a clean end-of-recording shutdown should call
// Finalize first. The ledger is owned by whoever passed it to Open.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	if w.curRegion != nil {
		if err := block.UnmapIndBlock(w.curRegion); err != nil && firstErr == nil {
			firstErr = err
		}
		w.curRegion = nil
		w.curBlock = nil
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
