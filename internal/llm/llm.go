// Package llm defines the single-method LLM collaborator boundary the
// scheduler consumes: a single function-typed interface rather than an
// open plugin registry with dynamic dispatch.
package llm

import (
	"context"
	"encoding/json"
)

// Request carries everything the collaborator needs to produce a result.
type Request struct {
	Model   string
	Prompt  string
	Context json.RawMessage
}

// Result is the collaborator's response. Confidence is advisory: the
// caller treats an omitted value (HasConfidence false) as 1.0, while a
// reported zero is taken as is.
type Result struct {
	Text          string
	Reasoning     string
	Data          json.RawMessage
	InputTokens   int
	OutputTokens  int
	Dollars       float64
	HasDollars    bool
	Confidence    float64
	HasConfidence bool
	Err           error
}

// Invoker is the LLM collaborator contract: a single function-typed
// boundary, not an open dispatch hierarchy. Production code supplies one
// implementation (an HTTP-backed provider client); tests supply
// StubInvoker.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// InvokerFunc adapts a plain function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req Request) (Result, error)

func (f InvokerFunc) Invoke(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
