package assetcache

import (
	_ "embed"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/roach88/ratingsync/internal/store"
)

//go:embed assets/offline.html
var offlinePage []byte

//go:embed assets/pixel.png
var pixelPNG []byte

// Placeholder bodies for script and style requests that cannot be served.
var (
	scriptPlaceholder = []byte("/* offline placeholder */\n")
	stylePlaceholder  = []byte("/* offline placeholder */\n")
)

// OfflinePage returns the built-in offline document.
func OfflinePage() []byte {
	out := make([]byte, len(offlinePage))
	copy(out, offlinePage)
	return out
}

// Category classifies a request path for fallback and integrity purposes.
type Category int

const (
	CategoryOther Category = iota
	CategoryHTML
	CategoryScript
	CategoryStyle
	CategoryImage
	CategoryJSON
)

func (c Category) String() string {
	switch c {
	case CategoryHTML:
		return "html"
	case CategoryScript:
		return "script"
	case CategoryStyle:
		return "style"
	case CategoryImage:
		return "image"
	case CategoryJSON:
		return "json"
	default:
		return "other"
	}
}

// Classify returns the category of p. Extensionless paths are pages.
func Classify(p string) Category {
	switch strings.ToLower(path.Ext(p)) {
	case "", ".html", ".htm":
		return CategoryHTML
	case ".js", ".mjs":
		return CategoryScript
	case ".css":
		return CategoryStyle
	case ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp":
		return CategoryImage
	case ".json", ".webmanifest":
		return CategoryJSON
	default:
		return CategoryOther
	}
}

// expectedTypes lists acceptable Content-Type prefixes per category.
var expectedTypes = map[Category][]string{
	CategoryHTML:   {"text/html"},
	CategoryScript: {"application/javascript", "text/javascript", "application/x-javascript"},
	CategoryStyle:  {"text/css"},
	CategoryImage:  {"image/"},
	CategoryJSON:   {"application/json", "application/manifest+json"},
}

// checkIntegrity accepts a fetched critical asset only if it is a 200 with a
// non-empty body of the expected content type.
func checkIntegrity(p string, resp store.CachedResponse) bool {
	if resp.Status != http.StatusOK || len(resp.Body) == 0 {
		return false
	}
	prefixes, ok := expectedTypes[Classify(p)]
	if !ok {
		return true
	}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	for _, prefix := range prefixes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

// synthesize builds the stand-in stored for a critical asset that failed.
// Returns false for categories without a stand-in.
func synthesize(p string, now time.Time) (store.CachedResponse, bool) {
	var (
		ct   string
		body []byte
	)
	switch Classify(p) {
	case CategoryHTML:
		ct, body = "text/html; charset=utf-8", offlinePage
	case CategoryScript:
		ct, body = "application/javascript; charset=utf-8", scriptPlaceholder
	case CategoryStyle:
		ct, body = "text/css; charset=utf-8", stylePlaceholder
	case CategoryImage:
		ct, body = "image/png", pixelPNG
	default:
		return store.CachedResponse{}, false
	}
	h := http.Header{}
	h.Set("Content-Type", ct)
	h.Set(HeaderSynthetic, "1")
	return store.CachedResponse{URL: p, Status: http.StatusOK, Header: h, Body: body, StoredAt: now}, true
}
