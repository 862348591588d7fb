package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/prognosis/internal/model"
)

// Templates holds the built-in prompt templates.
//
//go:embed templates/*.tmpl
var Templates embed.FS

var (
	studentQuestionRegex    = regexp.MustCompile(`(?i)</?\s*student-question\b[^>]*>`)
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxInputRunes = 4000

// PromptVariant selects the tone of the feedback prompt.
type PromptVariant string

const (
	// PromptStrict holds the student to a pre-residency standard.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default feedback variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient is an encouraging variant for early-year students.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce          sync.Once
	loadErr           error
	patientTemplate   *template.Template
	feedbackTemplates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// PatientData holds template data for the patient role-play prompt.
type PatientData struct {
	SystemInstruction string
	PatientName       string
	Age               int
	Gender            string
	ChiefComplaint    string
	History           string
	Conversation      string
	Question          string
}

// FeedbackData holds template data for the educator feedback prompt.
type FeedbackData struct {
	PatientName      string
	Age              int
	Gender           string
	ChiefComplaint   string
	CorrectDiagnosis string
	CorrectTreatment string
	Diagnosis        string
	Treatment        string
}

// Load parses the prompt templates from fsys, normally Templates.
// Only the first call has an effect.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		patientTemplate, loadErr = parse(fsys, "templates/patient.tmpl")
		if loadErr != nil {
			return
		}
		feedbackTemplates = make(map[PromptVariant]*template.Template)
		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			tmpl, err := parse(fsys, "templates/feedback_"+string(v)+".tmpl")
			if err != nil {
				loadErr = err
				return
			}
			feedbackTemplates[v] = tmpl
		}
	})
	return loadErr
}

func parse(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

// BuildPatientPrompt renders the role-play prompt for the next student
// question. conversation is the transcript rendered so far.
func BuildPatientPrompt(c model.Case, conversation, question string) (string, error) {
	if patientTemplate == nil {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("templates not initialized: call Load first")
	}
	data := PatientData{
		SystemInstruction: c.SystemInstruction,
		PatientName:       c.PatientName,
		Age:               c.Age,
		Gender:            c.Gender,
		ChiefComplaint:    c.ChiefComplaint,
		History:           c.History,
		Conversation:      stripTags(conversation),
		Question:          sanitizeInput(question),
	}
	var buf bytes.Buffer
	if err := patientTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildFeedbackPrompt renders the educator prompt for a submission using
// the given variant.
func BuildFeedbackPrompt(variant PromptVariant, c model.Case, diagnosis, treatment string) (string, error) {
	if feedbackTemplates == nil {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := feedbackTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}
	data := FeedbackData{
		PatientName:      c.PatientName,
		Age:              c.Age,
		Gender:           c.Gender,
		ChiefComplaint:   c.ChiefComplaint,
		CorrectDiagnosis: c.CorrectDiagnosis,
		CorrectTreatment: c.CorrectTreatment,
		Diagnosis:        sanitizeInput(diagnosis),
		Treatment:        sanitizeInput(treatment),
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// stripTags removes the template delimiter tags from s. Earlier turns of the
// transcript go through it too, since they are student text as well.
func stripTags(s string) string {
	s = studentQuestionRegex.ReplaceAllString(s, "")
	s = studentAnswerRegex.ReplaceAllString(s, "")
	return systemInstructionsRegex.ReplaceAllString(s, "")
}

// sanitizeInput strips the delimiter tags used by the templates so student
// text cannot close its own block, and truncates very long input.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(stripTags(s))

	if s == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(s) > maxInputRunes {
		runes := []rune(s)
		s = string(runes[:maxInputRunes]) + "\n\n[Input truncated due to length]"
	}
	return s
}
