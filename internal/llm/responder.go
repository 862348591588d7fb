package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/prognosis/internal/llm/prompts"
	"github.com/pavelanni/prognosis/internal/model"
)

// Responder renders prompts and calls a Generator on behalf of the session
// service.
type Responder struct {
	gen     Generator
	variant prompts.PromptVariant
}

// NewResponder loads the built-in prompt templates and returns a Responder
// using the given feedback variant.
func NewResponder(gen Generator, variant prompts.PromptVariant) (*Responder, error) {
	if !prompts.IsValidVariant(string(variant)) {
		return nil, fmt.Errorf("invalid prompt variant %q (want strict, standard or lenient)", variant)
	}
	if err := prompts.Load(prompts.Templates); err != nil {
		return nil, err
	}
	return &Responder{gen: gen, variant: variant}, nil
}

// PatientReply has the model answer input in the persona of the case's
// patient, given the conversation so far.
func (r *Responder) PatientReply(ctx context.Context, c model.Case, conversation, input string) (string, error) {
	prompt, err := prompts.BuildPatientPrompt(c, conversation, input)
	if err != nil {
		return "", fmt.Errorf("build patient prompt: %w", err)
	}
	return r.generate(ctx, "patient", prompt)
}

// Feedback asks the model for narrative feedback on a submission.
func (r *Responder) Feedback(ctx context.Context, c model.Case, diagnosis, treatment string) (string, error) {
	prompt, err := prompts.BuildFeedbackPrompt(r.variant, c, diagnosis, treatment)
	if err != nil {
		return "", fmt.Errorf("build feedback prompt: %w", err)
	}
	return r.generate(ctx, "feedback", prompt)
}

func (r *Responder) generate(ctx context.Context, kind, prompt string) (string, error) {
	start := time.Now()
	text, err := r.gen.Generate(ctx, prompt)
	if err != nil {
		slog.ErrorContext(ctx, "generation failed", "kind", kind, "duration", time.Since(start), "error", err)
		return "", fmt.Errorf("%w: %s: %w", model.ErrGeneration, kind, err)
	}
	slog.DebugContext(ctx, "generation done", "kind", kind, "duration", time.Since(start))
	return text, nil
}
