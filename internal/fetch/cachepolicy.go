package fetch

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slicingmelon/gofetch-mcp/internal/types"
)

// parseCacheDirectives extracts spec §4.5's validation metadata
// (Cache-Control, Expires, ETag, Last-Modified) from a response's
// headers, the way internal/cache.Entry and Fetcher.storable decide
// storability and TTL without re-parsing raw header strings downstream.
func parseCacheDirectives(h types.Header) types.CacheDirectives {
	var d types.CacheDirectives

	for _, directive := range strings.Split(h.Get("Cache-Control"), ",") {
		directive = strings.ToLower(strings.TrimSpace(directive))
		switch {
		case directive == "no-store":
			d.NoStore = true
		case directive == "no-cache":
			d.NoCache = true
		case strings.HasPrefix(directive, "max-age="):
			if secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age=")); err == nil {
				d.MaxAge = time.Duration(secs) * time.Second
				d.HasMaxAge = true
			}
		}
	}

	if exp := h.Get("Expires"); exp != "" {
		if t, err := http.ParseTime(exp); err == nil {
			d.Expires = t
		}
	}

	d.ETag = h.Get("ETag")
	d.LastModified = h.Get("Last-Modified")
	d.Revalidatable = d.ETag != "" || d.LastModified != ""

	return d
}
