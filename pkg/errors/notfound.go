package errors

// NotFoundError reports that a queried timestamp, key, or range has no
// covering data. Read-side callers generally treat this as an empty
// result rather than surfacing it (see query_key, the one read
// operation that does report it per spec).
type NotFoundError struct {
	*baseError
	key       string
	mediaKind string
}

// NewNotFoundError creates a NotFoundError with the given cause and message.
func NewNotFoundError(err error, msg string) *NotFoundError {
	return &NotFoundError{baseError: NewBaseError(err, ErrorCodeNotFound, msg)}
}

func (ne *NotFoundError) WithKey(key string) *NotFoundError {
	ne.key = key
	return ne
}

func (ne *NotFoundError) WithMediaKind(kind string) *NotFoundError {
	ne.mediaKind = kind
	return ne
}

func (ne *NotFoundError) Key() string { return ne.key }

func (ne *NotFoundError) MediaKind() string { return ne.mediaKind }

// NewKeyFrameNotFoundError builds the NotFoundError query_key returns
// when no entry at or after ts exists for the given media kind.
func NewKeyFrameNotFoundError(mediaKind string, ts int64) *NotFoundError {
	ne := NewNotFoundError(nil, "no key frame at or after the requested timestamp").
		WithMediaKind(mediaKind)
	ne.WithDetail("ts", ts)
	return ne
}
