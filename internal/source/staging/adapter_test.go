package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeCapture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write capture file: %v", err)
	}
}

func TestAdapterReplaysInFilenameOrder(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "002-second.json", `{"page_id":"page-b","records":[{"text":"b","origin_url":"https://x/2"}]}`)
	writeCapture(t, dir, "001-first.json", `{"page_id":"page-a","records":[{"text":"a","origin_url":"https://x/1"}]}`)
	writeCapture(t, dir, "notes.txt", "ignored")

	a := NewAdapter(dir, "test")
	if got := a.Remaining(); got != 2 {
		t.Fatalf("Remaining() = %d, want 2", got)
	}

	first, err := a.NextBatch(context.Background())
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if first.PageID != "page-a" {
		t.Errorf("first batch page = %s, want page-a", first.PageID)
	}

	second, err := a.NextBatch(context.Background())
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if second.PageID != "page-b" {
		t.Errorf("second batch page = %s, want page-b", second.PageID)
	}

	done, err := a.NextBatch(context.Background())
	if err != nil {
		t.Fatalf("NextBatch after exhaustion: %v", err)
	}
	if done != nil {
		t.Errorf("exhausted adapter returned batch %+v, want nil", done)
	}
}

func TestAdapterPageIDFallsBackToFilename(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "capture-42.json", `{"records":[{"text":"x","origin_url":"https://x/1"}]}`)

	a := NewAdapter(dir, "test")
	batch, err := a.NextBatch(context.Background())
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if batch.PageID != "capture-42" {
		t.Errorf("page ID = %s, want capture-42", batch.PageID)
	}
}

func TestAdapterMalformedFileErrors(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "bad.json", `{not json`)

	a := NewAdapter(dir, "test")
	if _, err := a.NextBatch(context.Background()); err == nil {
		t.Fatal("expected parse error, got nil")
	}
}
