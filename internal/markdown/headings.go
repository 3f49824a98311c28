package markdown

import (
	"regexp"
	"strings"
)

var (
	headingLine  = regexp.MustCompile(`^(#{1,6})[ \t]+(.+?)[ \t]*$`)
	boldOnlyLine = regexp.MustCompile(`^[ \t]*\*\*([^*]+)\*\*[ \t]*$`)
	emphasisWrap = regexp.MustCompile(`^(\*\*|\*|__|_)(.+)(\*\*|\*|__|_)$`)
	closingHash  = regexp.MustCompile(`[ \t]+#+$`)
	excessBlank  = regexp.MustCompile(`\n{3,}`)
)

type line struct {
	text  string
	level int
}

// NormalizeHeadings rewrites heading levels so the first heading is level 1
// and every later heading moves by the same amount, clamped to 1..6.
// Emphasis wrapping a whole heading is dropped, paragraphs that are entirely
// bold become level-2 headings, and when title is non-empty a first line
// equal to it becomes the top heading. Fenced code is left untouched.
func NormalizeHeadings(md, title string) string {
	if strings.TrimSpace(md) == "" {
		return ""
	}
	lines := scan(md)
	promoteTitle(lines, title)
	shiftLevels(lines)

	var b strings.Builder
	for i, ln := range lines {
		if ln.level > 0 {
			b.WriteString(strings.Repeat("#", ln.level))
			b.WriteByte(' ')
		}
		b.WriteString(ln.text)
		b.WriteByte('\n')
		if ln.level > 0 && i+1 < len(lines) && strings.TrimSpace(lines[i+1].text) != "" {
			b.WriteByte('\n')
		}
	}
	out := excessBlank.ReplaceAllString(b.String(), "\n\n")
	return strings.TrimSpace(out) + "\n"
}

func scan(md string) []line {
	raw := strings.Split(strings.ReplaceAll(md, "\r\n", "\n"), "\n")
	lines := make([]line, 0, len(raw))
	inFence := false
	for _, text := range raw {
		trimmed := strings.TrimSpace(text)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			lines = append(lines, line{text: text})
			continue
		}
		if inFence {
			lines = append(lines, line{text: text})
			continue
		}
		if m := headingLine.FindStringSubmatch(text); m != nil {
			lines = append(lines, line{text: stripEmphasis(m[2]), level: len(m[1])})
			continue
		}
		if m := boldOnlyLine.FindStringSubmatch(text); m != nil {
			lines = append(lines, line{text: strings.TrimSpace(m[1]), level: 2})
			continue
		}
		lines = append(lines, line{text: text})
	}
	return lines
}

func stripEmphasis(s string) string {
	s = strings.TrimSpace(closingHash.ReplaceAllString(strings.TrimSpace(s), ""))
	for {
		m := emphasisWrap.FindStringSubmatch(s)
		if m == nil || m[1] != m[3] || strings.Contains(m[2], m[1]) {
			return s
		}
		s = strings.TrimSpace(m[2])
	}
}

func promoteTitle(lines []line, title string) {
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return
	}
	for i := range lines {
		if strings.TrimSpace(lines[i].text) == "" {
			continue
		}
		if lines[i].level > 0 {
			return
		}
		candidate := strings.Join(strings.Fields(stripEmphasis(lines[i].text)), " ")
		if candidate == title ||
			(len([]rune(candidate)) >= 4 && strings.HasPrefix(strings.ToLower(title), strings.ToLower(candidate))) {
			lines[i] = line{text: candidate, level: 1}
		}
		return
	}
}

func shiftLevels(lines []line) {
	delta, found := 0, false
	for i := range lines {
		if lines[i].level == 0 {
			continue
		}
		if !found {
			delta, found = 1-lines[i].level, true
		}
		lines[i].level = min(max(lines[i].level+delta, 1), 6)
	}
}

// Demote pushes every heading outside fenced code down by n levels, never
// past level 6.
func Demote(md string, n int) string {
	lines := scan(md)
	var b strings.Builder
	for _, ln := range lines {
		if ln.level > 0 {
			b.WriteString(strings.Repeat("#", min(ln.level+n, 6)))
			b.WriteByte(' ')
		}
		b.WriteString(ln.text)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
