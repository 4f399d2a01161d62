package relblock

import "testing"

func TestBuilderAppendAndIterate(t *testing.T) {
	b := NewBuilder()
	b.Append([]byte("keyframe"), 1000, KeyFlag)
	b.Append([]byte("delta1"), 1033, 0)
	b.Append([]byte("delta2"), 1066, 0)

	records, err := Iterate(b.Bytes(), b.Len())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}

	if !records[0].IsKey() {
		t.Error("first record should be a key frame")
	}
	if records[1].IsKey() || records[2].IsKey() {
		t.Error("delta records should not be key frames")
	}
	if string(records[0].Data) != "keyframe" {
		t.Errorf("got data %q, want %q", records[0].Data, "keyframe")
	}
	if records[2].Timestamp != 1066 {
		t.Errorf("got ts %d, want 1066", records[2].Timestamp)
	}
}

func TestSizeMatchesAppendAdvance(t *testing.T) {
	dst := make([]byte, Size(5))
	next := Append(dst, 0, []byte("hello"), 42, 0)
	if next != len(dst) {
		t.Errorf("Append advanced cursor to %d, want %d", next, len(dst))
	}
}

func TestIterateStopsOnTruncatedHeader(t *testing.T) {
	buf := make([]byte, RecordHeaderSize-1)
	records, err := Iterate(buf, len(buf))
	if err == nil {
		t.Fatal("expected a corruption error")
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestIteratePartialResultsOnTruncatedPayload(t *testing.T) {
	b := NewBuilder()
	b.Append([]byte("ok"), 1, KeyFlag)
	b.Append([]byte("short"), 2, 0)
	full := b.Bytes()

	truncated := full[:len(full)-3]
	records, err := Iterate(truncated, len(truncated))
	if err == nil {
		t.Fatal("expected a corruption error on the truncated second record")
	}
	if len(records) != 1 {
		t.Fatalf("expected the first record to still decode, got %d records", len(records))
	}
}
