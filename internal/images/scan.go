package images

import (
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
)

var (
	markdownImage = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
	htmlImage     = regexp.MustCompile(`(?i)<img[^>]+?src="([^"]+)"[^>]*>`)
)

// occurrence is one image reference in the Markdown text.
type occurrence struct {
	start, end int
	// srcStart and srcEnd locate the URL: the link target of Markdown images
	// without its title, or the src attribute value of HTML images.
	srcStart, srcEnd int
	alt              string
	html             bool
	resolved         string
}

// scan returns the image references of md in document order. References
// that cannot be downloaded (data: URIs, non-HTTP schemes) and references
// inside fenced code blocks are skipped.
func scan(md string, base *url.URL) []occurrence {
	fences := fencedRanges(md)
	var out []occurrence
	for _, m := range markdownImage.FindAllStringSubmatchIndex(md, -1) {
		if fences.contains(m[0]) {
			continue
		}
		resolved, ok := resolveSource(md[m[4]:m[5]], base)
		if !ok {
			continue
		}
		srcStart, srcEnd := targetSpan(md, m[4], m[5])
		out = append(out, occurrence{
			start: m[0], end: m[1], srcStart: srcStart, srcEnd: srcEnd,
			alt: md[m[2]:m[3]], resolved: resolved,
		})
	}
	for _, m := range htmlImage.FindAllStringSubmatchIndex(md, -1) {
		if fences.contains(m[0]) {
			continue
		}
		resolved, ok := resolveSource(md[m[2]:m[3]], base)
		if !ok {
			continue
		}
		out = append(out, occurrence{start: m[0], end: m[1], srcStart: m[2], srcEnd: m[3], html: true, resolved: resolved})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].start < out[j].start })

	// Drop anything overlapping an earlier match.
	kept := out[:0]
	lastEnd := -1
	for _, occ := range out {
		if occ.start < lastEnd {
			continue
		}
		kept = append(kept, occ)
		lastEnd = occ.end
	}
	return kept
}

// targetSpan narrows the link target md[start:end] to its first field, the
// URL, dropping surrounding space and any title.
func targetSpan(md string, start, end int) (int, int) {
	for start < end && isSpace(md[start]) {
		start++
	}
	stop := start
	for stop < end && !isSpace(md[stop]) {
		stop++
	}
	return start, stop
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// span is a half-open byte range.
type span struct{ start, end int }

type spans []span

func (s spans) contains(off int) bool {
	for _, r := range s {
		if off >= r.start && off < r.end {
			return true
		}
	}
	return false
}

// fencedRanges returns the byte ranges of fenced code blocks, fence lines
// included. An unclosed fence runs to the end of the document.
func fencedRanges(md string) spans {
	var out spans
	open := -1
	var marker string
	for off := 0; off < len(md); {
		end := strings.IndexByte(md[off:], '\n')
		next := len(md)
		if end >= 0 {
			next = off + end + 1
		}
		trimmed := strings.TrimSpace(md[off:next])
		switch {
		case open < 0 && (strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")):
			open, marker = off, trimmed[:3]
		case open >= 0 && strings.HasPrefix(trimmed, marker):
			out = append(out, span{open, next})
			open = -1
		}
		off = next
	}
	if open >= 0 {
		out = append(out, span{open, len(md)})
	}
	return out
}

// resolveSource turns the raw target of an image reference into an absolute
// http(s) URL. The raw value may carry a title and angle brackets.
func resolveSource(raw string, base *url.URL) (string, bool) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", false
	}
	src := strings.Trim(fields[0], `<>"'`)
	if src == "" || strings.HasPrefix(strings.ToLower(src), "data:") {
		return "", false
	}
	if strings.HasPrefix(src, "//") {
		scheme := "https"
		if base != nil && base.Scheme != "" {
			scheme = base.Scheme
		}
		src = scheme + ":" + src
	}
	ref, err := url.Parse(src)
	if err != nil {
		return "", false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	return ref.String(), true
}

// downloadURL rewrites URLs that would otherwise redirect, such as GitHub
// blob "raw" links.
func downloadURL(resolved string) string {
	u, err := url.Parse(resolved)
	if err != nil || !strings.EqualFold(u.Hostname(), "github.com") || !strings.Contains(u.Path, "/raw/") {
		return resolved
	}
	u.Host = "raw.githubusercontent.com"
	u.Path = strings.Replace(u.Path, "/raw/", "/", 1)
	u.RawPath = ""
	return u.String()
}

var knownExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".bmp": {}, ".svg": {}, ".avif": {}, ".ico": {}, ".tiff": {},
}

// urlExtension returns the lower-cased image extension of the URL path, or
// "" when it has none that looks like an image.
func urlExtension(resolved string) string {
	u, err := url.Parse(resolved)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if _, ok := knownExtensions[ext]; !ok {
		return ""
	}
	return ext
}
