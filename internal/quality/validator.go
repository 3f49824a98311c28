// Package quality decides whether fetched content is a real article or an
// anti-bot, login or error page.
package quality

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article2md/internal/article"
)

// DefaultMinLength is the minimum visible text length, in runes, of an accepted page.
const DefaultMinLength = 1000

// Reason explains a Verdict.
type Reason string

// Verdict reasons.
const (
	ReasonOK              Reason = "ok"
	ReasonTooShort        Reason = "content too short"
	ReasonBlocked         Reason = "anti-bot keyword present"
	ReasonMissingTitle    Reason = "title missing"
	ReasonMissingSelector Reason = "required element missing"
	ReasonUnparsable      Reason = "document not parsable"
)

// Config tunes a Validator.
type Config struct {
	// MinLength rejects text shorter than this many runes. Zero disables the check.
	MinLength int `mapstructure:"min_length"`
	// Keywords reject pages whose text or title contains any of them, case-insensitively.
	Keywords []string `mapstructure:"keywords"`
	// RequireTitle rejects pages with an empty title.
	RequireTitle bool `mapstructure:"require_title"`
	// TrustLength skips the keyword rule once text is longer than this. Zero disables it.
	TrustLength int `mapstructure:"trust_length"`
	// RequiredSelectors must each match at least one element in the page.
	RequiredSelectors []string `mapstructure:"required_selectors"`
}

// DefaultConfig rejects short pages and the common anti-bot interstitials.
func DefaultConfig() Config {
	return Config{
		MinLength: DefaultMinLength,
		Keywords:  []string{"环境异常", "需完成验证", "访问被拒绝", "captcha", "access denied"},
	}
}

// Verdict is the outcome of a validation.
type Verdict struct {
	Reason  Reason
	Keyword string
	Length  int
}

// OK reports whether the content was accepted.
func (v Verdict) OK() bool {
	return v.Reason == ReasonOK
}

// Err converts a rejection into a fetch failure; accepted verdicts return nil.
func (v Verdict) Err() error {
	switch {
	case v.OK():
		return nil
	case v.Keyword != "":
		return fmt.Errorf("%w: %s %q", article.ErrFetchFailure, v.Reason, v.Keyword)
	case v.Reason == ReasonTooShort:
		return fmt.Errorf("%w: %s (%d runes)", article.ErrFetchFailure, v.Reason, v.Length)
	default:
		return fmt.Errorf("%w: %s", article.ErrFetchFailure, v.Reason)
	}
}

// Validator is a pure function of its inputs and safe for concurrent use.
type Validator struct {
	cfg      Config
	keywords []string
}

// New constructs a Validator.
func New(cfg Config) *Validator {
	lower := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lower = append(lower, strings.ToLower(kw))
	}
	return &Validator{cfg: cfg, keywords: lower}
}

// Validate judges extracted text and title.
func (v *Validator) Validate(text, title string) Verdict {
	text = strings.TrimSpace(text)
	length := len([]rune(text))
	if v == nil {
		return Verdict{Reason: ReasonOK, Length: length}
	}
	if v.cfg.RequireTitle && strings.TrimSpace(title) == "" {
		return Verdict{Reason: ReasonMissingTitle, Length: length}
	}
	trusted := v.cfg.TrustLength > 0 && length > v.cfg.TrustLength
	if !trusted {
		if kw := v.blockedKeyword(text, title); kw != "" {
			return Verdict{Reason: ReasonBlocked, Keyword: kw, Length: length}
		}
	}
	if v.cfg.MinLength > 0 && length < v.cfg.MinLength {
		return Verdict{Reason: ReasonTooShort, Length: length}
	}
	return Verdict{Reason: ReasonOK, Length: length}
}

// ValidatePage parses html, checks required selectors and validates the
// visible body text.
func (v *Validator) ValidatePage(html, title string) Verdict {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Verdict{Reason: ReasonUnparsable}
	}
	return v.ValidateDocument(doc, title)
}

// ValidateDocument is ValidatePage for an already parsed document.
func (v *Validator) ValidateDocument(doc *goquery.Document, title string) Verdict {
	if v != nil {
		for _, sel := range v.cfg.RequiredSelectors {
			if sel != "" && doc.Find(sel).Length() == 0 {
				return Verdict{Reason: ReasonMissingSelector, Keyword: sel}
			}
		}
	}
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	body = body.Clone()
	body.Find("script, style, noscript, template").Remove()
	return v.Validate(body.Text(), title)
}

func (v *Validator) blockedKeyword(text, title string) string {
	if len(v.keywords) == 0 {
		return ""
	}
	lowerText := strings.ToLower(text)
	lowerTitle := strings.ToLower(title)
	for _, kw := range v.keywords {
		if strings.Contains(lowerText, kw) || strings.Contains(lowerTitle, kw) {
			return kw
		}
	}
	return ""
}
