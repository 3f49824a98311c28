// Package article defines the document model shared by the conversion pipeline.
package article

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// SourceKind identifies what a SourceRequest points at.
type SourceKind string

// Supported source kinds.
const (
	KindURL  SourceKind = "url"
	KindHTML SourceKind = "html"
	KindFile SourceKind = "file"
)

// SourceRequest is one unit of work submitted by the caller. It is immutable
// once created.
type SourceRequest struct {
	Kind  SourceKind `json:"kind"`
	Value string     `json:"value"`
	// BaseURL optionally anchors relative links for HTML and file sources.
	BaseURL string `json:"base_url,omitempty"`
}

// URLRequest builds a SourceRequest for a web page.
func URLRequest(rawURL string) SourceRequest {
	return SourceRequest{Kind: KindURL, Value: rawURL}
}

// Label returns the value used to identify the request in logs and summaries.
func (r SourceRequest) Label() string {
	if r.Kind == KindHTML {
		return "inline-html"
	}
	return r.Value
}

// FetchResult is the outcome of a fetch strategy run.
type FetchResult struct {
	Success bool
	// Title is empty when the page carried no usable title.
	Title    string
	HTML     string
	FinalURL string
	Strategy string
	Err      error
}

// ContentDocument is the parsed, pre-cleaned form of an article. The Content
// selection is owned by a single handler invocation.
type ContentDocument struct {
	Title       string
	HeaderParts []string
	Content     *goquery.Selection
	PageURL     *url.URL
}

// ConvertResult is the per-request output of the pipeline.
type ConvertResult struct {
	Title             string       `json:"title"`
	Markdown          string       `json:"markdown"`
	SuggestedFilename string       `json:"suggested_filename"`
	Handler           string       `json:"handler"`
	Images            ImageSummary `json:"images"`
}

// ImageStatus tracks an image reference through the download pipeline.
type ImageStatus string

// Image states.
const (
	ImagePending    ImageStatus = "pending"
	ImageDownloaded ImageStatus = "downloaded"
	ImageFailed     ImageStatus = "failed"
)

// ImageRef is one unique image discovered in a document. LocalPath is set only
// when Status is ImageDownloaded.
type ImageRef struct {
	SourceURL   string      `json:"source_url"`
	LocalPath   string      `json:"local_path,omitempty"`
	ContentHash string      `json:"content_hash,omitempty"`
	Status      ImageStatus `json:"status"`
	Slot        int         `json:"slot"`
	Err         error       `json:"-"`
}

// ImageSummary aggregates the image pipeline outcome for one document.
type ImageSummary struct {
	Found      int `json:"found"`
	Downloaded int `json:"downloaded"`
	Reused     int `json:"reused"`
	Failed     int `json:"failed"`
}

// ConversionOptions are the caller-facing switches for a batch.
type ConversionOptions struct {
	DownloadImages    bool   `json:"download_images" mapstructure:"download_images"`
	FilterNonContent  bool   `json:"filter_non_content" mapstructure:"filter_non_content"`
	UseSharedBrowser  bool   `json:"use_shared_browser" mapstructure:"use_shared_browser"`
	IgnoreSSL         bool   `json:"ignore_ssl" mapstructure:"ignore_ssl"`
	Proxy             string `json:"proxy,omitempty" mapstructure:"proxy"`
	CompactImageNames bool   `json:"compact_image_names" mapstructure:"compact_image_names"`
	OutDir            string `json:"out_dir,omitempty" mapstructure:"out_dir"`
}

// DefaultOptions mirrors the behavior of a fresh install.
func DefaultOptions() ConversionOptions {
	return ConversionOptions{
		DownloadImages:   true,
		FilterNonContent: true,
		UseSharedBrowser: true,
	}
}

// StopFunc reports whether the caller asked the batch to stop.
type StopFunc func() bool

// Stopped evaluates fn, treating nil as never stopping.
func (fn StopFunc) Stopped() bool {
	return fn != nil && fn()
}
