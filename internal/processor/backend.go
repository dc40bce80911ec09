// Package processor implements the Batch Processor: it turns a completed
// prompt batch into observations by dispatching on source_type and, for
// user batches, running the full LLM extraction pipeline (classify, render,
// call, parse, store).
package processor

import (
	"context"

	"github.com/dotcommander/oakd/internal/llm"
)

// CompleteOpts narrows a single Backend.Complete call.
type CompleteOpts struct {
	Temperature float64
	MaxTokens   int
	WantJSON    bool
}

// Backend abstracts the two extraction backends the daemon can run:
// internal/llm.Runner (CLI subprocess, no response_format support) and
// internal/llm.Client (direct HTTP, honors WantJSON/MaxTokens). Both end up
// behind this single interface so the processor's pipeline doesn't care
// which one it's talking to.
type Backend interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts CompleteOpts) (string, error)
}

// cliBackend adapts an llm.Runner (CLI subprocess) to Backend. The CLI tool
// owns its own sampling and output formatting, so opts is accepted but has
// no effect -- the prompt is simply the concatenation of system and user
// text, matching how a human would paste both into the CLI's single prompt
// argument.
type cliBackend struct {
	runner *llm.Runner
}

// NewCLIBackend wraps an llm.Runner for use as a processor Backend.
func NewCLIBackend(runner *llm.Runner) Backend {
	return cliBackend{runner: runner}
}

func (b cliBackend) Complete(ctx context.Context, systemPrompt, userPrompt string, _ CompleteOpts) (string, error) {
	prompt := userPrompt
	if systemPrompt != "" {
		prompt = systemPrompt + "\n\n" + userPrompt
	}
	return b.runner.Extract(ctx, prompt)
}

// httpBackend adapts an llm.Client (direct HTTP chat-completions) to Backend.
type httpBackend struct {
	client *llm.Client
}

// NewHTTPBackend wraps an llm.Client for use as a processor Backend.
func NewHTTPBackend(client *llm.Client) Backend {
	return httpBackend{client: client}
}

func (b httpBackend) Complete(ctx context.Context, systemPrompt, userPrompt string, opts CompleteOpts) (string, error) {
	return b.client.Complete(ctx, systemPrompt, userPrompt, llm.CompleteOptions{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		WantJSON:    opts.WantJSON,
	})
}
