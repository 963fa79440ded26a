package pipeline

import (
	"context"
	"errors"

	"github.com/joseph-ayodele/parts-intake/internal/llm"
)

var (
	// ErrEmptyBody means the email has no text to extract parts from.
	ErrEmptyBody = errors.New("email body is empty")
	// ErrNoParts means body extraction returned no usable records.
	ErrNoParts = errors.New("no parts found in email body")
)

// isFatal reports errors that must abort the whole email rather than one document or part.
func isFatal(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, llm.ErrQuotaStillExhausted)
}
