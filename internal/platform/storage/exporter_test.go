package storage

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"
)

type bufferWriter struct {
	bytes.Buffer
	closed bool
}

func (b *bufferWriter) Close() error {
	b.closed = true
	return nil
}

func TestObjectPath(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("JST", 9*3600))
	got, err := ObjectPath("/reports/stats/", "order-stats", at)
	if err != nil {
		t.Fatalf("ObjectPath: %v", err)
	}
	if want := "reports/stats/2026/03/03/order-stats-20260303T200607Z.json"; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if _, err := ObjectPath("", "../escape", at); err == nil {
		t.Fatalf("expected invalid name error")
	}
}

func TestExporterExport(t *testing.T) {
	var gotBucket, gotObject string
	writer := &bufferWriter{}
	exporter := &Exporter{
		bucket: "exports",
		prefix: "reports/stats",
		newWriter: func(_ context.Context, bucket, object string) io.WriteCloser {
			gotBucket, gotObject = bucket, object
			return writer
		},
	}

	uri, err := exporter.Export(context.Background(), "order-stats", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), []byte(`{"ok":true}`))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if gotBucket != "exports" || gotObject != "reports/stats/2026/01/02/order-stats-20260102T000000Z.json" {
		t.Fatalf("unexpected destination %s/%s", gotBucket, gotObject)
	}
	if uri != "gs://exports/"+gotObject {
		t.Fatalf("unexpected uri %s", uri)
	}
	if !writer.closed || writer.String() != `{"ok":true}` {
		t.Fatalf("expected payload written and closed")
	}
}
