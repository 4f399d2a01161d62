// Package reader implements the storage reader side of a recording
// file: range queries, key-frame lookup, and boundary timestamps
// (spec §4.5).
package reader

import (
	"context"
	"sync"

	"github.com/iamNilotpal/revd/internal/dumbdex"
	"github.com/iamNilotpal/revd/internal/indblock"
	"github.com/iamNilotpal/revd/internal/ledger"
	"github.com/iamNilotpal/revd/internal/relblock"
	"github.com/iamNilotpal/revd/internal/storage"
	"github.com/iamNilotpal/revd/internal/storage/block"
	revderrors "github.com/iamNilotpal/revd/pkg/errors"
)

// QueryFrame is one frame returned by Query, already decoded from its
// rel-block record and tagged with the media kind it belongs to.
type QueryFrame struct {
	storage.Frame
}

// Reader drives query / query_key / key_frame_start_times /
// query_segments / first_ts / last_ts against one open storage file
// (spec §4.5).
type Reader struct {
	mu sync.RWMutex

	file    *block.File
	dumbdex *dumbdex.Dumbdex
	ledger  *ledger.Ledger
}

// Open opens an existing storage file read-only against an
// already-open ledger handle.
func Open(rvdPath string, led *ledger.Ledger) (*Reader, error) {
	f, err := block.Open(rvdPath, false)
	if err != nil {
		return nil, err
	}
	dd := dumbdex.Open(f.Block0Dumbdex(), f.NumBlocks)
	return &Reader{file: f, dumbdex: dd, ledger: led}, nil
}

// stepBack implements spec §4.5's lower-bound adjustment: step back
// one block only when the lower bound ran off the end of the index,
// or when the found entry's first_ts overshoots startTs. An exact
// first_ts == startTs match is already the right block and is left
// alone.
func (r *Reader) stepBack(blockIdx uint32, startTs int64) uint32 {
	if blockIdx == r.dumbdex.End() {
		if blockIdx > r.dumbdex.Begin() {
			return blockIdx - 1
		}
		return blockIdx
	}
	ts, _ := r.dumbdex.EntryAt(blockIdx)
	if ts > startTs && blockIdx > r.dumbdex.Begin() {
		return blockIdx - 1
	}
	return blockIdx
}

func mediaMatches(entryStreamID uint8, kind storage.MediaKind) bool {
	if kind == storage.MediaAll {
		return true
	}
	var want uint8
	if kind == storage.MediaAudio {
		want = 1
	}
	return entryStreamID == want
}

// Query implements spec §4.5's query: locate the block whose first_ts
// range covers startTs (stepping back one block from the lower bound
// when the lower-bound entry overshoots startTs), then walk forward
// through ind-block entries and rel-block records up to endTs,
// filtering by mediaKind.
func (r *Reader) Query(ctx context.Context, startTs, endTs int64, mediaKind storage.MediaKind) ([]QueryFrame, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if endTs <= startTs {
		return nil, revderrors.NewValidationError(
			nil, revderrors.ErrorCodeInvalidRange, "query range end must be after start",
		).WithField("endTs").WithProvided(endTs)
	}

	blockIdx := r.stepBack(r.dumbdex.FindLowerBound(startTs), startTs)
	if blockIdx >= r.dumbdex.End() {
		if r.dumbdex.Len() == 0 {
			return nil, nil
		}
		blockIdx = r.dumbdex.End() - 1
	}

	var out []QueryFrame
	for blockIdx < r.dumbdex.End() {
		blockFirstTs, blockNo := r.dumbdex.EntryAt(blockIdx)
		if blockFirstTs >= endTs {
			break
		}

		frames, err := r.readBlock(blockNo, startTs, endTs, mediaKind)
		if err != nil {
			return out, err
		}
		out = append(out, frames...)
		blockIdx++
	}
	return out, nil
}

func (r *Reader) readBlock(blockNo uint16, startTs, endTs int64, mediaKind storage.MediaKind) ([]QueryFrame, error) {
	region, err := r.file.MapIndBlock(blockNo, false)
	if err != nil {
		return nil, err
	}
	defer block.UnmapIndBlock(region)

	ib := indblock.Open(region)
	if err := ib.Validate(); err != nil {
		return nil, err
	}

	var out []QueryFrame
	for i := ib.Begin(); i < ib.End(); i++ {
		entry := ib.Entry(i)
		if !mediaMatches(entry.StreamID, mediaKind) {
			continue
		}

		records, err := relblock.Iterate(ib.Payload(entry), int(entry.Size))
		if err != nil {
			return out, err
		}
		for _, rec := range records {
			if rec.Timestamp < startTs || rec.Timestamp >= endTs {
				continue
			}
			kind := storage.MediaVideo
			if entry.StreamID == 1 {
				kind = storage.MediaAudio
			}
			out = append(out, QueryFrame{storage.Frame{
				Data:      rec.Data,
				Timestamp: rec.Timestamp,
				Key:       rec.IsKey(),
				MediaKind: kind,
			}})
		}
	}
	return out, nil
}

// QueryKey implements spec §4.5's query_key: the first key frame of
// mediaKind at or after ts. mediaKind == MediaAll is invalid (there is
// no cross-stream notion of "the" key frame). Returns NotFoundError
// when no such frame exists.
func (r *Reader) QueryKey(ctx context.Context, ts int64, mediaKind storage.MediaKind) (QueryFrame, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if mediaKind == storage.MediaAll {
		return QueryFrame{}, revderrors.NewValidationError(
			nil, revderrors.ErrorCodeInvalidMediaKind, "query_key requires a concrete media kind",
		).WithField("mediaKind").WithProvided(mediaKind.String())
	}

	blockIdx := r.stepBack(r.dumbdex.FindLowerBound(ts), ts)

	for blockIdx < r.dumbdex.End() {
		_, blockNo := r.dumbdex.EntryAt(blockIdx)
		region, err := r.file.MapIndBlock(blockNo, false)
		if err != nil {
			return QueryFrame{}, err
		}
		ib := indblock.Open(region)

		for i := ib.Begin(); i < ib.End(); i++ {
			entry := ib.Entry(i)
			if !mediaMatches(entry.StreamID, mediaKind) {
				continue
			}
			records, err := relblock.Iterate(ib.Payload(entry), int(entry.Size))
			if err != nil {
				block.UnmapIndBlock(region)
				return QueryFrame{}, err
			}
			for _, rec := range records {
				if rec.Timestamp >= ts && rec.IsKey() {
					block.UnmapIndBlock(region)
					return QueryFrame{storage.Frame{
						Data:      rec.Data,
						Timestamp: rec.Timestamp,
						Key:       true,
						MediaKind: mediaKind,
					}}, nil
				}
			}
		}
		block.UnmapIndBlock(region)
		blockIdx++
	}

	return QueryFrame{}, revderrors.NewKeyFrameNotFoundError(mediaKind.String(), ts)
}

// KeyFrameStartTimes returns every key-frame first_ts of mediaKind in
// [startTs, endTs), in ascending order.
func (r *Reader) KeyFrameStartTimes(ctx context.Context, startTs, endTs int64, mediaKind storage.MediaKind) ([]int64, error) {
	frames, err := r.Query(ctx, startTs, endTs, mediaKind)
	if err != nil {
		return nil, err
	}
	var out []int64
	for _, f := range frames {
		if f.Key {
			out = append(out, f.Timestamp)
		}
	}
	return out, nil
}

// QuerySegments delegates to the ledger's query_segments (spec §4.5).
func (r *Reader) QuerySegments(ctx context.Context, startTs, endTs int64) ([]ledger.Segment, error) {
	return r.ledger.QuerySegments(ctx, startTs, endTs)
}

// FirstTs returns the file's earliest recorded timestamp, and false if
// the file holds no data yet.
func (r *Reader) FirstTs() (int64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.dumbdex.Len() == 0 {
		return 0, false, nil
	}
	_, blockNo := r.dumbdex.EntryAt(r.dumbdex.Begin())
	return r.firstEntryTs(blockNo)
}

// LastTs returns the file's latest recorded timestamp, and false if
// the file holds no data yet.
func (r *Reader) LastTs() (int64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.dumbdex.Len() == 0 {
		return 0, false, nil
	}
	_, blockNo := r.dumbdex.EntryAt(r.dumbdex.End() - 1)
	return r.lastEntryTs(blockNo)
}

func (r *Reader) firstEntryTs(blockNo uint16) (int64, bool, error) {
	region, err := r.file.MapIndBlock(blockNo, false)
	if err != nil {
		return 0, false, err
	}
	defer block.UnmapIndBlock(region)

	ib := indblock.Open(region)
	if ib.NValid() == 0 {
		return 0, false, nil
	}
	entry := ib.Entry(0)
	records, err := relblock.Iterate(ib.Payload(entry), int(entry.Size))
	if err != nil || len(records) == 0 {
		return 0, false, err
	}
	return records[0].Timestamp, true, nil
}

func (r *Reader) lastEntryTs(blockNo uint16) (int64, bool, error) {
	region, err := r.file.MapIndBlock(blockNo, false)
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

// Close releases the reader's resources.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
