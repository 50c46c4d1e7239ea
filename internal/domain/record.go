package domain

import (
	"crypto/md5"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// MediaClass distinguishes image and video references for relocation routing.
type MediaClass string

const (
	MediaClassImage MediaClass = "image"
	MediaClassVideo MediaClass = "video"
)

// MediaRef is one media attachment of a content record.
type MediaRef struct {
	URL   string     `json:"url"`
	Class MediaClass `json:"class"`
}

// Author identifies the user who wrote a content record.
type Author struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// ContentRecord is a normalized content item produced by an external
// scraper. OriginURL is the item's identity: two records with the same
// origin URL are the same logical item.
type ContentRecord struct {
	Platform    string      `json:"platform"`
	Text        string      `json:"text"`
	Media       []MediaRef  `json:"media,omitempty"`
	Author      Author      `json:"author"`
	PostedAt    time.Time   `json:"posted_at"`
	OriginURL   string      `json:"origin_url"`
	CollectedAt time.Time   `json:"collected_at"`
	Tags        StringArray `json:"tags,omitempty"`
}

// Eligible reports whether the record qualifies for persistence.
// Empty-text records are discarded silently, never errored.
func (r *ContentRecord) Eligible() bool {
	return strings.TrimSpace(r.Text) != ""
}

// Fingerprint returns the record's deduplication identity.
func (r *ContentRecord) Fingerprint() string {
	return Fingerprint(r.OriginURL)
}

// Fingerprint derives the deduplication identity for an origin URL.
// It is deterministic across calls and process restarts; identical
// origin URLs always map to identical fingerprints.
func Fingerprint(originURL string) string {
	sum := md5.Sum([]byte(originURL))
	return hex.EncodeToString(sum[:])
}

// Batch is an ordered list of content records submitted together by
// one collection trigger.
type Batch struct {
	PageID  string          `json:"page_id"`
	Records []ContentRecord `json:"records"`
}

// Summary is the result of one batch ingestion run. It is returned
// even when every item was skipped or individually failed.
type Summary struct {
	Collected int `json:"collected"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}
