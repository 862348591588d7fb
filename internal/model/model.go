package model

import (
	"context"
	"strings"
	"time"
)

// AuthProvider records how a user account was created.
type AuthProvider string

const (
	// AuthPassword is an email/password account.
	AuthPassword AuthProvider = "password"
	// AuthSocial is an account created from an external identity token.
	AuthSocial AuthProvider = "social"
)

// User represents a registered student.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	ProviderUID  string // subject of the external identity, social accounts only
	AuthProvider AuthProvider
	CreatedAt    time.Time
}

// DisplayName returns the name to show for the user, falling back to the
// local part of the email address.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	local, _, _ := strings.Cut(u.Email, "@")
	return local
}

// Identity is the verified caller of a protected request.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// AuthToken is an opaque bearer token stored server-side.
type AuthToken struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type identityCtxKey struct{}

// ContextWithIdentity stores the verified identity in the request context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext retrieves the verified identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// CaseType tells where a case template came from.
type CaseType string

const (
	CasePredefined CaseType = "predefined"
	CaseImported   CaseType = "imported"
)

// Vitals holds the patient's vital signs at presentation.
type Vitals struct {
	BloodPressure    string  `json:"blood_pressure"`
	HeartRate        int     `json:"heart_rate"`
	Temperature      float64 `json:"temperature"`
	RespiratoryRate  int     `json:"respiratory_rate"`
	OxygenSaturation int     `json:"oxygen_saturation"`
}

// Case is an immutable patient scenario with its reference answers.
// The persona script and the answers are never serialized.
type Case struct {
	ID                string   `json:"case_id"`
	PatientName       string   `json:"patient_name"`
	Age               int      `json:"age"`
	Gender            string   `json:"gender"`
	ChiefComplaint    string   `json:"chief_complaint"`
	Vitals            Vitals   `json:"vitals"`
	History           string   `json:"history"`
	SystemInstruction string   `json:"-"`
	CorrectDiagnosis  string   `json:"-"`
	CorrectTreatment  string   `json:"-"`
	CaseType          CaseType `json:"case_type,omitempty"`
}

// CasePublic is the part of a case a student may see during an attempt.
type CasePublic struct {
	PatientName    string `json:"patient_name"`
	Age            int    `json:"age"`
	Gender         string `json:"gender"`
	ChiefComplaint string `json:"chief_complaint"`
	Vitals         Vitals `json:"vitals"`
	History        string `json:"history"`
}

// Public returns the student-visible projection of the case.
func (c Case) Public() CasePublic {
	return CasePublic{
		PatientName:    c.PatientName,
		Age:            c.Age,
		Gender:         c.Gender,
		ChiefComplaint: c.ChiefComplaint,
		Vitals:         c.Vitals,
		History:        c.History,
	}
}

// CaseImport is used for loading cases from JSON.
type CaseImport struct {
	PatientName       string `json:"patient_name"`
	Age               int    `json:"age"`
	Gender            string `json:"gender"`
	ChiefComplaint    string `json:"chief_complaint"`
	Vitals            Vitals `json:"vitals"`
	History           string `json:"history"`
	SystemInstruction string `json:"system_instruction"`
	CorrectDiagnosis  string `json:"correct_diagnosis"`
	CorrectTreatment  string `json:"correct_treatment"`
}

// Case converts the import record into a case template.
func (ci CaseImport) Case(t CaseType) Case {
	return Case{
		PatientName:       ci.PatientName,
		Age:               ci.Age,
		Gender:            ci.Gender,
		ChiefComplaint:    ci.ChiefComplaint,
		Vitals:            ci.Vitals,
		History:           ci.History,
		SystemInstruction: ci.SystemInstruction,
		CorrectDiagnosis:  ci.CorrectDiagnosis,
		CorrectTreatment:  ci.CorrectTreatment,
		CaseType:          t,
	}
}

// SessionStatus represents the status of a case attempt.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// Turn is one student question and the simulated patient's answer.
type Turn struct {
	UserInput  string    `json:"user_input"`
	AIResponse string    `json:"ai_response"`
	Timestamp  time.Time `json:"timestamp"`
}

// Session is one student's attempt at a case.
type Session struct {
	ID          string
	UserID      string
	CaseID      string
	Turns       []Turn
	Status      SessionStatus
	Diagnosis   *string
	Treatment   *string
	Score       *int
	Feedback    *string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Submission is the outcome persisted when a session is finalized.
type Submission struct {
	Diagnosis   string
	Treatment   string
	Score       int
	Feedback    string
	CompletedAt time.Time
}

// Score is the rule-based assessment of a submission.
type Score struct {
	Diagnosis int `json:"diagnosis"`
	Treatment int `json:"treatment"`
	Total     int `json:"total"`
}

// StartResult is returned when a new attempt begins.
type StartResult struct {
	SessionID string `json:"session_id"`
	CaseID    string `json:"case_id"`
	CasePublic
}

// SubmitResult is returned after a diagnosis is submitted.
type SubmitResult struct {
	Score            int    `json:"score"`
	Feedback         string `json:"feedback"`
	CorrectDiagnosis string `json:"correct_diagnosis"`
	CorrectTreatment string `json:"correct_treatment"`
}

// SessionSummary is one row of a student's session history.
type SessionSummary struct {
	SessionID      string        `json:"session_id"`
	PatientName    string        `json:"patient_name"`
	ChiefComplaint string        `json:"chief_complaint"`
	Status         SessionStatus `json:"status"`
	Score          *int          `json:"score"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    *time.Time    `json:"completed_at"`
}

// SessionDetail combines a session with its case for display.
type SessionDetail struct {
	SessionID        string        `json:"session_id"`
	Case             CasePublic    `json:"case"`
	ChatHistory      []Turn        `json:"chat_history"`
	Status           SessionStatus `json:"status"`
	Diagnosis        *string       `json:"diagnosis"`
	Treatment        *string       `json:"treatment"`
	Score            *int          `json:"score"`
	Feedback         *string       `json:"feedback"`
	CorrectDiagnosis *string       `json:"correct_diagnosis,omitempty"`
	CorrectTreatment *string       `json:"correct_treatment,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at"`
}

// LeaderboardEntry ranks a student by their completed attempts.
type LeaderboardEntry struct {
	UserID       string  `json:"user_id"`
	Name         string  `json:"name"`
	BestScore    int     `json:"best_score"`
	AverageScore float64 `json:"average_score"`
	Completed    int     `json:"completed"`
}

// Config holds runtime API parameters set via CLI flags.
type Config struct {
	BasePath       string   // URL prefix for sub-path deployments (e.g. "/api")
	AllowedOrigins []string // CORS origins, "*" allows any
	Lang           string   // default response language
}
