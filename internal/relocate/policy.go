package relocate

import (
	"strings"

	"github.com/tobyh/feedvault/internal/config"
	"github.com/tobyh/feedvault/internal/domain"
)

// Decision is the routing outcome for one media payload.
type Decision int

const (
	// DecisionRelocate re-hosts the payload on durable storage.
	DecisionRelocate Decision = iota
	// DecisionKeepOriginal leaves the source URL untouched, with zero
	// upload calls.
	DecisionKeepOriginal
)

// Policy decides whether a fetched payload is worth re-hosting.
type Policy struct {
	// Per-class hard ceilings. Video's is set higher than image's.
	ImageMaxBytes int64
	VideoMaxBytes int64

	// HeavyVideoBytes is the secondary, lower threshold above which a
	// video is only relocated when it looks like a short looped clip.
	// Heavy video is not worth the re-hosting cost and latency; GIF-like
	// clips still are.
	HeavyVideoBytes int64

	// ClipHosts are source host substrings known to serve short looped
	// clips.
	ClipHosts []string
}

// NewPolicy builds a Policy from configuration.
func NewPolicy(cfg *config.RelocateConfig) *Policy {
	return &Policy{
		ImageMaxBytes:   cfg.ImageMaxBytes,
		VideoMaxBytes:   cfg.VideoMaxBytes,
		HeavyVideoBytes: cfg.HeavyVideoBytes,
		ClipHosts:       cfg.ClipHosts,
	}
}

// Route applies the routing rules to a fetched payload, before any
// upload call is made.
func (p *Policy) Route(sourceURL string, class domain.MediaClass, payload *Payload) Decision {
	size := payload.Size()

	if size > p.ceiling(class) {
		return DecisionKeepOriginal
	}

	if class == domain.MediaClassVideo && size > p.HeavyVideoBytes && !p.isShortClip(sourceURL) {
		return DecisionKeepOriginal
	}

	return DecisionRelocate
}

func (p *Policy) ceiling(class domain.MediaClass) int64 {
	if class == domain.MediaClassVideo {
		return p.VideoMaxBytes
	}
	return p.ImageMaxBytes
}

// isShortClip recognizes known short-clip sources by host pattern.
// Size below HeavyVideoBytes is the other clip signal and is handled
// directly in Route.
func (p *Policy) isShortClip(sourceURL string) bool {
	url := strings.ToLower(sourceURL)
	for _, host := range p.ClipHosts {
		if host != "" && strings.Contains(url, strings.ToLower(host)) {
			return true
		}
	}
	return false
}
