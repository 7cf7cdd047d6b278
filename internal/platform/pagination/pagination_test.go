package pagination

import (
	"errors"
	"net/url"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	cursor := Cursor{CreatedAt: time.Date(2026, 2, 3, 4, 5, 6, 7, time.UTC), ID: "ord_1"}
	token := EncodeToken(cursor)
	if token == "" {
		t.Fatalf("expected token")
	}
	got, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if !got.CreatedAt.Equal(cursor.CreatedAt) || got.ID != cursor.ID {
		t.Fatalf("unexpected cursor %+v", got)
	}
	if EncodeToken(Cursor{}) != "" {
		t.Fatalf("expected empty token for zero cursor")
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	if _, err := DecodeToken("!!!"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestCursorAfter(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cursor := Cursor{CreatedAt: base, ID: "m"}
	if !cursor.After(base.Add(-time.Second), "z") {
		t.Fatalf("older item must come after cursor")
	}
	if cursor.After(base.Add(time.Second), "a") {
		t.Fatalf("newer item must not come after cursor")
	}
	if !cursor.After(base, "a") || cursor.After(base, "m") {
		t.Fatalf("ties break on descending id")
	}
}

func TestParse(t *testing.T) {
	opts := Options{DefaultPageSize: 10, MaxPageSize: 50}
	params, err := Parse(url.Values{}, opts)
	if err != nil || params.PageSize != 10 {
		t.Fatalf("expected default size, got %+v (%v)", params, err)
	}
	params, err = Parse(url.Values{"pageSize": {"500"}}, opts)
	if err != nil || params.PageSize != 50 {
		t.Fatalf("expected clamped size, got %+v (%v)", params, err)
	}
	if _, err := Parse(url.Values{"pageSize": {"-1"}}, opts); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize, got %v", err)
	}
	if _, err := Parse(url.Values{"pageToken": {"%%"}}, opts); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}
