// Package llm holds the thin HTTP clients for the upstream model providers.
// Clients return raw completion text; prompt construction and response
// interpretation stay in the service layer.
package llm

import (
	"context"
	"fmt"
)

// ChatClient is a single-turn completion client. Implementations must honor
// ctx cancellation and return *HTTPError for non-2xx upstream responses.
type ChatClient interface {
	Name() string
	Complete(ctx context.Context, prompt string) (text string, tokensUsed int, err error)
}

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	Provider string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s upstream returned %d: %s", e.Provider, e.Status, e.Body)
}

const maxErrorBodyBytes = 512

func truncateBody(body string) string {
	if len(body) > maxErrorBodyBytes {
		return body[:maxErrorBodyBytes]
	}
	return body
}
