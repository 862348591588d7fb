package model

import "time"

// SessionExport is the top-level JSON structure for session export.
type SessionExport struct {
	ExportedAt time.Time       `json:"exported_at"`
	Count      int             `json:"count"`
	Results    []SessionResult `json:"results"`
}

// SessionResult holds one attempt with its case and outcome for export.
type SessionResult struct {
	SessionID        string        `json:"session_id"`
	UserID           string        `json:"user_id"`
	Email            string        `json:"email"`
	SessionNumber    int           `json:"session_number"`
	Status           SessionStatus `json:"status"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	Case             CasePublic    `json:"case"`
	CorrectDiagnosis string        `json:"correct_diagnosis"`
	CorrectTreatment string        `json:"correct_treatment"`
	Conversation     []Turn        `json:"conversation"`
	Diagnosis        *string       `json:"diagnosis,omitempty"`
	Treatment        *string       `json:"treatment,omitempty"`
	Score            *int          `json:"score,omitempty"`
	Feedback         *string       `json:"feedback,omitempty"`
}
