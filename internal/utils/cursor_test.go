package utils

import (
	"testing"
	"time"
)

func TestJobCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 2, 14, 10, 30, 0, 0, time.UTC)

	encoded, err := EncodeJobCursor(at, "job-123")

	if err != nil {
		t.Fatalf("EncodeJobCursor failed: %v", err)
	}

	cur, err := DecodeJobCursor(encoded)

	if err != nil {
		t.Fatalf("DecodeJobCursor failed: %v", err)
	}

	if !cur.UpdatedAt.Equal(at) || cur.ID != "job-123" {
		t.Fatalf("round trip mismatch: %+v", cur)
	}
}

func TestDecodeJobCursorRejectsGarbage(t *testing.T) {
	for _, cursor := range []string{"", "not-base64!!", "aGVsbG8配"} {
		if _, err := DecodeJobCursor(cursor); err == nil {
			t.Fatalf("cursor %q should not decode", cursor)
		}
	}
}

func TestDecodeJobCursorRejectsIncompletePayload(t *testing.T) {
	// valid base64, but zero time / empty id
	encoded, err := EncodeJobCursor(time.Time{}, "")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if _, err := DecodeJobCursor(encoded); err == nil {
		t.Fatal("cursor with empty fields should not decode")
	}
}
