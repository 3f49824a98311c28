package article

import (
	"net/url"
	"regexp"
	"strings"
	"time"
)

// StampLayout formats the timestamp prefix shared by a document and its images.
const StampLayout = "20060102_150405"

var invalidFilenameChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// Stamp returns the filename prefix for now.
func Stamp(now time.Time) string {
	return now.Format(StampLayout)
}

// SanitizeFilename replaces characters that are illegal on common filesystems.
func SanitizeFilename(name, fallback string) string {
	sanitized := strings.TrimSpace(invalidFilenameChars.ReplaceAllString(name, "_"))
	if sanitized == "" {
		return fallback
	}
	return sanitized
}

// SuggestFilename derives "<stamp>_<base>.md" where base is the title, the last
// URL path segment, the host, or "page", in that order.
func SuggestFilename(stamp, title, pageURL string) string {
	base := strings.TrimSpace(title)
	if base == "" {
		base = baseFromURL(pageURL)
	}
	return stamp + "_" + SanitizeFilename(base, "untitled") + ".md"
}

func baseFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "page"
	}
	path := u.Path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		path = path[idx+1:]
	}
	switch {
	case path != "":
		return path
	case u.Host != "":
		return u.Host
	default:
		return "page"
	}
}
