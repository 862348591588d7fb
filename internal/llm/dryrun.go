package llm

import (
	"context"
	"fmt"
	"strings"
)

// DryRun answers without calling any model. It is meant for local demos and
// frontend development.
type DryRun struct{}

func (DryRun) Generate(_ context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "Student's Submission") {
		return "Dry-run feedback: compare your diagnosis and treatment with the correct answers above.", nil
	}
	return fmt.Sprintf("(dry run) I'm not feeling well. The prompt had %d characters.", len(prompt)), nil
}

func (DryRun) Ping(context.Context) error { return nil }
