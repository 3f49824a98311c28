package article

import "errors"

// Error taxonomy used across the pipeline. Callers wrap these with context and
// match them with errors.Is.
var (
	// ErrFetchFailure marks a network, timeout or quality rejection during a fetch.
	ErrFetchFailure = errors.New("fetch failure")
	// ErrFetchExhausted is returned once every strategy and retry has failed.
	ErrFetchExhausted = errors.New("all fetch strategies exhausted")
	// ErrParseFailure means the expected document structure was absent.
	ErrParseFailure = errors.New("parse failure")
	// ErrConversionFailure means HTML to Markdown conversion failed.
	ErrConversionFailure = errors.New("conversion failure")
	// ErrImageFailure marks a single image that could not be downloaded.
	ErrImageFailure = errors.New("image failure")
	// ErrStopRequested unwinds the pipeline after a cooperative stop.
	ErrStopRequested = errors.New("stop requested")
	// ErrNotApplicable lets a handler decline a request without side effects.
	ErrNotApplicable = errors.New("handler not applicable")
	// ErrAllHandlersFailed is the request-level error once the generic handler fails too.
	ErrAllHandlersFailed = errors.New("all handlers failed")
)
