package relocate

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/webp"
)

// extensionFor picks a file extension for a payload. Image payloads
// are sniffed from their magic bytes; everything else falls back to
// the declared MIME type.
func extensionFor(payload *Payload) string {
	if _, format, err := image.DecodeConfig(bytes.NewReader(payload.Data)); err == nil {
		if format == "jpeg" {
			return "jpg"
		}
		return format
	}

	mime := payload.ContentType
	if idx := strings.Index(mime, ";"); idx != -1 {
		mime = mime[:idx]
	}
	switch strings.TrimSpace(strings.ToLower(mime)) {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "video/mp4":
		return "mp4"
	case "video/webm":
		return "webm"
	case "video/quicktime":
		return "mov"
	default:
		return "bin"
	}
}

// contentTypeFor maps an extension back to a MIME type for upload.
func contentTypeFor(ext string) string {
	switch ext {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "mp4":
		return "video/mp4"
	case "webm":
		return "video/webm"
	case "mov":
		return "video/quicktime"
	default:
		return "application/octet-stream"
	}
}

// contentKey derives the content-addressed destination key for a
// payload: a hash of the bytes, bucketed by its first two characters.
// Identical payloads always map to the same key, which is what makes
// relocation idempotent.
func contentKey(payload *Payload) (key, contentType string) {
	sum := md5.Sum(payload.Data)
	hash := hex.EncodeToString(sum[:])
	ext := extensionFor(payload)
	return fmt.Sprintf("%s/%s.%s", hash[:2], hash, ext), contentTypeFor(ext)
}
