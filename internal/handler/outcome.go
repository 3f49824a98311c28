// Package handler routes source requests to site-specialized or generic
// processors and turns their pages into Markdown documents.
package handler

import (
	"github.com/JakeFAU/article2md/internal/article"
)

// OutcomeKind tags the result of running a descriptor.
type OutcomeKind int

// Outcome kinds.
const (
	// NotApplicable means the handler declined without side effects.
	NotApplicable OutcomeKind = iota
	// Applicable carries a finished result.
	Applicable
	// Failed carries the error that stopped the handler.
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Applicable:
		return "applicable"
	case Failed:
		return "failed"
	default:
		return "not_applicable"
	}
}

// Outcome is what a RunFunc returns.
type Outcome struct {
	Kind   OutcomeKind
	Result article.ConvertResult
	Err    error
}

// Done wraps a finished result.
func Done(res article.ConvertResult) Outcome {
	return Outcome{Kind: Applicable, Result: res}
}

// Skip declines the request.
func Skip() Outcome {
	return Outcome{Kind: NotApplicable}
}

// Fail reports err. A nil err is treated as a decline.
func Fail(err error) Outcome {
	if err == nil {
		return Skip()
	}
	return Outcome{Kind: Failed, Err: err}
}
