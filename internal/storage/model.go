// Package storage holds the types shared between the storage writer
// and reader: the Frame/MediaKind data model spec §3 defines and the
// write context codec strings carried into every newly initialized
// ind block.
package storage

// MediaKind identifies which elementary stream a frame or query
// belongs to.
type MediaKind uint8

const (
	MediaVideo MediaKind = iota
	MediaAudio
	// MediaAll is only valid as a reader-side query filter meaning "no
	// stream_id filter"; write_frame never accepts it (spec §4.5).
	MediaAll
)

func (m MediaKind) String() string {
	switch m {
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	case MediaAll:
		return "all"
	default:
		return "unknown"
	}
}

// Frame is one elementary-stream frame handed to write_frame. It is a
// value type, never persisted on its own (spec §3).
type Frame struct {
	Data      []byte
	Timestamp int64 // monotonic, milliseconds
	Key       bool
	MediaKind MediaKind
}

// WriteContext carries the codec strings recorded in every ind block
// a writer initializes for this session (spec §4.4's
// create_write_context).
type WriteContext struct {
	VideoCodecName   string
	VideoCodecParams string
	AudioCodecName   string
	AudioCodecParams string
}

// NewWriteContext is a pure value constructor for WriteContext.
func NewWriteContext(videoCodecName, videoCodecParams, audioCodecName, audioCodecParams string) WriteContext {
	return WriteContext{
		VideoCodecName:   videoCodecName,
		VideoCodecParams: videoCodecParams,
		AudioCodecName:   audioCodecName,
		AudioCodecParams: audioCodecParams,
	}
}
