package firestore

import (
	"slices"
	"strings"
	"time"

	"github.com/pavelanni/prognosis/internal/model"
)

type vitalsDoc struct {
	BloodPressure    string  `firestore:"blood_pressure"`
	HeartRate        int64   `firestore:"heart_rate"`
	Temperature      float64 `firestore:"temperature"`
	RespiratoryRate  int64   `firestore:"respiratory_rate"`
	OxygenSaturation int64   `firestore:"oxygen_saturation"`
}

type caseDoc struct {
	PatientName       string    `firestore:"patient_name"`
	Age               int64     `firestore:"age"`
	Gender            string    `firestore:"gender"`
	ChiefComplaint    string    `firestore:"chief_complaint"`
	Vitals            vitalsDoc `firestore:"vitals"`
	History           string    `firestore:"history"`
	SystemInstruction string    `firestore:"system_instruction"`
	CorrectDiagnosis  string    `firestore:"correct_diagnosis"`
	CorrectTreatment  string    `firestore:"correct_treatment"`
	CaseType          string    `firestore:"case_type"`
	CreatedAt         time.Time `firestore:"created_at"`
}

type turnDoc struct {
	UserInput  string    `firestore:"user_input"`
	AIResponse string    `firestore:"ai_response"`
	Timestamp  time.Time `firestore:"timestamp"`
}

type sessionDoc struct {
	UserID      string     `firestore:"user_id"`
	CaseID      string     `firestore:"case_id"`
	ChatHistory []turnDoc  `firestore:"chat_history"`
	Status      string     `firestore:"status"`
	Diagnosis   *string    `firestore:"diagnosis"`
	Treatment   *string    `firestore:"treatment"`
	Score       *int64     `firestore:"score"`
	Feedback    *string    `firestore:"feedback"`
	StartedAt   time.Time  `firestore:"started_at"`
	CompletedAt *time.Time `firestore:"completed_at"`
}

type userDoc struct {
	Email        string    `firestore:"email"`
	EmailLower   string    `firestore:"email_lower"`
	Name         string    `firestore:"name"`
	PasswordHash string    `firestore:"password_hash"`
	ProviderUID  string    `firestore:"provider_uid"`
	AuthProvider string    `firestore:"auth_provider"`
	CreatedAt    time.Time `firestore:"created_at"`
}

type tokenDoc struct {
	UserID    string    `firestore:"user_id"`
	CreatedAt time.Time `firestore:"created_at"`
	ExpiresAt time.Time `firestore:"expires_at"`
}

type importedFileDoc struct {
	Path       string    `firestore:"path"`
	Hash       string    `firestore:"hash"`
	ImportedAt time.Time `firestore:"imported_at"`
}

func toCaseDoc(c model.Case, now time.Time) caseDoc {
	return caseDoc{
		PatientName:    c.PatientName,
		Age:            int64(c.Age),
		Gender:         c.Gender,
		ChiefComplaint: c.ChiefComplaint,
		Vitals: vitalsDoc{
			BloodPressure:    c.Vitals.BloodPressure,
			HeartRate:        int64(c.Vitals.HeartRate),
			Temperature:      c.Vitals.Temperature,
			RespiratoryRate:  int64(c.Vitals.RespiratoryRate),
			OxygenSaturation: int64(c.Vitals.OxygenSaturation),
		},
		History:           c.History,
		SystemInstruction: c.SystemInstruction,
		CorrectDiagnosis:  c.CorrectDiagnosis,
		CorrectTreatment:  c.CorrectTreatment,
		CaseType:          string(c.CaseType),
		CreatedAt:         now,
	}
}

func (d caseDoc) toModel(id string) model.Case {
	ct := model.CaseType(d.CaseType)
	if ct == "" {
		ct = model.CasePredefined
	}
	return model.Case{
		ID:             id,
		PatientName:    d.PatientName,
		Age:            int(d.Age),
		Gender:         d.Gender,
		ChiefComplaint: d.ChiefComplaint,
		Vitals: model.Vitals{
			BloodPressure:    d.Vitals.BloodPressure,
			HeartRate:        int(d.Vitals.HeartRate),
			Temperature:      d.Vitals.Temperature,
			RespiratoryRate:  int(d.Vitals.RespiratoryRate),
			OxygenSaturation: int(d.Vitals.OxygenSaturation),
		},
		History:           d.History,
		SystemInstruction: d.SystemInstruction,
		CorrectDiagnosis:  d.CorrectDiagnosis,
		CorrectTreatment:  d.CorrectTreatment,
		CaseType:          ct,
	}
}

type storedCase struct {
	id  string
	doc caseDoc
}

// orderCases sorts by created_at, keeping the read order for ties. A zero
// created_at is the earliest time, so legacy documents come first.
func orderCases(stored []storedCase) []model.Case {
	slices.SortStableFunc(stored, func(a, b storedCase) int {
		return a.doc.CreatedAt.Compare(b.doc.CreatedAt)
	})
	out := make([]model.Case, 0, len(stored))
	for _, sc := range stored {
		out = append(out, sc.doc.toModel(sc.id))
	}
	return out
}

func toTurnDoc(t model.Turn) turnDoc {
	return turnDoc{UserInput: t.UserInput, AIResponse: t.AIResponse, Timestamp: t.Timestamp.UTC()}
}

func toSessionDoc(s model.Session) sessionDoc {
	turns := make([]turnDoc, 0, len(s.Turns))
	for _, t := range s.Turns {
		turns = append(turns, toTurnDoc(t))
	}
	status := string(s.Status)
	if status == "" {
		status = string(model.StatusActive)
	}
	return sessionDoc{
		UserID:      s.UserID,
		CaseID:      s.CaseID,
		ChatHistory: turns,
		Status:      status,
		StartedAt:   s.StartedAt.UTC(),
	}
}

func (d sessionDoc) toModel(id string) model.Session {
	turns := make([]model.Turn, 0, len(d.ChatHistory))
	for _, t := range d.ChatHistory {
		turns = append(turns, model.Turn{UserInput: t.UserInput, AIResponse: t.AIResponse, Timestamp: t.Timestamp})
	}
	s := model.Session{
		ID:          id,
		UserID:      d.UserID,
		CaseID:      d.CaseID,
		Turns:       turns,
		Status:      model.SessionStatus(d.Status),
		Diagnosis:   d.Diagnosis,
		Treatment:   d.Treatment,
		Feedback:    d.Feedback,
		StartedAt:   d.StartedAt,
		CompletedAt: d.CompletedAt,
	}
	if d.Score != nil {
		v := int(*d.Score)
		s.Score = &v
	}
	return s
}

func toUserDoc(u model.User) userDoc {
	return userDoc{
		Email:        u.Email,
		EmailLower:   strings.ToLower(u.Email),
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		ProviderUID:  u.ProviderUID,
		AuthProvider: string(u.AuthProvider),
		CreatedAt:    u.CreatedAt,
	}
}

func (d userDoc) toModel(id string) *model.User {
	return &model.User{
		ID:           id,
		Email:        d.Email,
		Name:         d.Name,
		PasswordHash: d.PasswordHash,
		ProviderUID:  d.ProviderUID,
		AuthProvider: model.AuthProvider(d.AuthProvider),
		CreatedAt:    d.CreatedAt,
	}
}
