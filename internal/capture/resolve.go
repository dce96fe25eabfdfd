package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/grafov/m3u8"
	"github.com/rs/zerolog/log"
)

// maxManifestSize bounds how much of a playlist response is read.
const maxManifestSize = 1 << 20

// HLSResolver turns an HLS master playlist URL into the URL of its
// highest-bandwidth variant. Anything else is returned unchanged.
type HLSResolver struct {
	Client *http.Client
}

// NewHLSResolver creates a resolver whose requests time out after timeout.
func NewHLSResolver(timeout time.Duration) *HLSResolver {
	return &HLSResolver{Client: &http.Client{Timeout: timeout}}
}

// Resolve never fails: when the manifest cannot be fetched or parsed, or is
// a media playlist, the original URL is returned.
func (r *HLSResolver) Resolve(ctx context.Context, raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !strings.HasSuffix(strings.ToLower(u.Path), ".m3u8") {
		return raw
	}

	resolved, err := r.bestVariant(ctx, u)
	if err != nil {
		log.Warn().Err(err).Str("url", raw).Msg("Manifest resolution failed, using original URL")
		return raw
	}
	if resolved != raw {
		log.Info().Str("url", raw).Str("variant", resolved).Msg("Resolved stream variant")
	}
	return resolved
}

func (r *HLSResolver) bestVariant(ctx context.Context, u *url.URL) (string, error) {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch manifest: status %d", resp.StatusCode)
	}

	playlist, listType, err := m3u8.DecodeFrom(io.LimitReader(resp.Body, maxManifestSize), false)
	if err != nil {
		return "", fmt.Errorf("decode manifest: %w", err)
	}
	if listType != m3u8.MASTER {
		return u.String(), nil
	}

	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok {
		return u.String(), nil
	}

	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	if best == nil {
		return "", fmt.Errorf("master playlist has no variants")
	}

	ref, err := url.Parse(best.URI)
	if err != nil {
		return "", fmt.Errorf("variant uri: %w", err)
	}
	return u.ResolveReference(ref).String(), nil
}
