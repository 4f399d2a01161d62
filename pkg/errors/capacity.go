package errors

// CapacityError reports that a bounded structure (a GOP buffer, an ind
// block's entry table) has no room left for the requested write.
type CapacityError struct {
	*baseError
	limit     int64
	requested int64
}

// NewCapacityError creates a CapacityError with the given cause, code, and message.
func NewCapacityError(err error, code ErrorCode, msg string) *CapacityError {
	return &CapacityError{baseError: NewBaseError(err, code, msg)}
}

func (ce *CapacityError) WithLimit(limit int64) *CapacityError {
	ce.limit = limit
	return ce
}

func (ce *CapacityError) WithRequested(requested int64) *CapacityError {
	ce.requested = requested
	return ce
}

func (ce *CapacityError) Limit() int64 { return ce.limit }

func (ce *CapacityError) Requested() int64 { return ce.requested }

// NewGopTooLargeError builds the CapacityError write_frame returns when
// a single GOP's accumulated bytes would exceed block_size.
func NewGopTooLargeError(gopSize, blockSize int64) *CapacityError {
	return NewCapacityError(nil, ErrorCodeGopTooLarge, "GOP exceeds block size").
		WithRequested(gopSize).
		WithLimit(blockSize)
}

// NewIndBlockFullError builds the CapacityError for an ind-block append
// that finds n_valid == n_entries. By spec this must not happen
// mid-GOP by construction, so callers should treat it as internal.
func NewIndBlockFullError(nEntries int64) *CapacityError {
	return NewCapacityError(nil, ErrorCodeIndBlockFull, "ind block entry table is full").
		WithLimit(nEntries)
}
