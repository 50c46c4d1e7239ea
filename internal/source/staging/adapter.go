// Package staging reads captured batches from disk. The browser-side
// scrapers dump one JSON file per collection trigger; this adapter
// replays them through the pipeline in filename order.
package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tobyh/feedvault/internal/domain"
)

// captureFile is the on-disk shape of one captured batch.
type captureFile struct {
	PageID  string                 `json:"page_id"`
	Records []domain.ContentRecord `json:"records"`
}

// Adapter implements source.Collector over a directory of capture
// files.
type Adapter struct {
	dir      string
	sourceID string

	files  []string
	next   int
	loaded bool
}

// NewAdapter creates a staging adapter for the given capture
// directory.
func NewAdapter(dir, sourceID string) *Adapter {
	return &Adapter{dir: dir, sourceID: sourceID}
}

// SourceID returns the identifier for this collector.
func (a *Adapter) SourceID() string {
	return "staging:" + a.sourceID
}

// NextBatch returns the next captured batch, or nil when every capture
// file has been replayed.
func (a *Adapter) NextBatch(ctx context.Context) (*domain.Batch, error) {
	if !a.loaded {
		if err := a.scan(); err != nil {
			return nil, fmt.Errorf("failed to scan staging directory: %w", err)
		}
		a.loaded = true
	}

	if a.next >= len(a.files) {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := a.files[a.next]
	a.next++

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture file %s: %w", path, err)
	}

	var capture captureFile
	if err := json.Unmarshal(data, &capture); err != nil {
		return nil, fmt.Errorf("failed to parse capture file %s: %w", path, err)
	}

	pageID := capture.PageID
	if pageID == "" {
		pageID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return &domain.Batch{PageID: pageID, Records: capture.Records}, nil
}

// Remaining reports how many capture files are left to replay.
func (a *Adapter) Remaining() int {
	if !a.loaded {
		if err := a.scan(); err != nil {
			return 0
		}
		a.loaded = true
	}
	return len(a.files) - a.next
}

func (a *Adapter) scan() error {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return err
	}

	a.files = a.files[:0]
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		a.files = append(a.files, filepath.Join(a.dir, entry.Name()))
	}

	// Filename order doubles as capture order.
	sort.Strings(a.files)
	return nil
}
