package llm

import (
	"context"
	"encoding/base64"
)

// Task names a kind of inference call, for logs and metrics.
type Task string

const (
	TaskClassify      Task = "classify"
	TaskBody          Task = "body"
	TaskQuotation     Task = "quotation"
	TaskAuthorization Task = "authorization"
	TaskMerge         Task = "merge"
	TaskNormalize     Task = "normalize"
)

// Image is an encoded page sent alongside a prompt.
type Image struct {
	MIMEType string
	Data     []byte
}

// DataURL renders the image as a base64 data URL.
func (i Image) DataURL() string {
	mt := i.MIMEType
	if mt == "" {
		mt = "image/png"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// GenerationParams are sampling settings. The zero value means "use the gateway defaults".
type GenerationParams struct {
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
}

func (p GenerationParams) IsZero() bool { return p == GenerationParams{} }

// Request is everything one inference call needs. Instructions and params travel with
// the call so concurrent workers never share mutable session state.
type Request struct {
	Task         Task
	Instructions string
	Prompt       string
	Images       []Image
	Params       GenerationParams
}

// Model is the external inference service. Implementations must wrap rate-limit
// failures with ErrQuotaExhausted.
type Model interface {
	Generate(ctx context.Context, req Request) (string, error)
}
