package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/prognosis/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to ":memory:" opens a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		patient_name TEXT NOT NULL,
		age INTEGER NOT NULL DEFAULT 0,
		gender TEXT NOT NULL DEFAULT '',
		chief_complaint TEXT NOT NULL,
		blood_pressure TEXT NOT NULL DEFAULT '',
		heart_rate INTEGER NOT NULL DEFAULT 0,
		temperature REAL NOT NULL DEFAULT 0,
		respiratory_rate INTEGER NOT NULL DEFAULT 0,
		oxygen_saturation INTEGER NOT NULL DEFAULT 0,
		history TEXT NOT NULL DEFAULT '',
		system_instruction TEXT NOT NULL,
		correct_diagnosis TEXT NOT NULL,
		correct_treatment TEXT NOT NULL,
		case_type TEXT NOT NULL DEFAULT 'predefined',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		case_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		diagnosis TEXT,
		treatment TEXT,
		score INTEGER,
		feedback TEXT,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		FOREIGN KEY (case_id) REFERENCES cases(id)
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user_started ON sessions(user_id, started_at);

	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user_input TEXT NOT NULL,
		ai_response TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL COLLATE NOCASE,
		name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		provider_uid TEXT NOT NULL DEFAULT '',
		auth_provider TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_password_email
		ON users(email) WHERE auth_provider = 'password';
	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_provider_uid
		ON users(provider_uid) WHERE provider_uid != '';

	CREATE TABLE IF NOT EXISTS auth_tokens (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const caseColumns = `id, patient_name, age, gender, chief_complaint,
	blood_pressure, heart_rate, temperature, respiratory_rate, oxygen_saturation,
	history, system_instruction, correct_diagnosis, correct_treatment, case_type`

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(row scanner) (model.Case, error) {
	var c model.Case
	err := row.Scan(&c.ID, &c.PatientName, &c.Age, &c.Gender, &c.ChiefComplaint,
		&c.Vitals.BloodPressure, &c.Vitals.HeartRate, &c.Vitals.Temperature,
		&c.Vitals.RespiratoryRate, &c.Vitals.OxygenSaturation,
		&c.History, &c.SystemInstruction, &c.CorrectDiagnosis, &c.CorrectTreatment, &c.CaseType)
	return c, err
}

// AddCase stores a case template and returns its id.
func (s *Store) AddCase(ctx context.Context, c model.Case) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CaseType == "" {
		c.CaseType = model.CasePredefined
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cases (`+caseColumns+`, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.PatientName, c.Age, c.Gender, c.ChiefComplaint,
		c.Vitals.BloodPressure, c.Vitals.HeartRate, c.Vitals.Temperature,
		c.Vitals.RespiratoryRate, c.Vitals.OxygenSaturation,
		c.History, c.SystemInstruction, c.CorrectDiagnosis, c.CorrectTreatment, c.CaseType,
		time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert case: %w", err)
	}
	return c.ID, nil
}

// ListCases returns all cases in insertion order.
func (s *Store) ListCases(ctx context.Context) ([]model.Case, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+caseColumns+` FROM cases ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cases []model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// GetCase returns one case or model.ErrNotFound.
func (s *Store) GetCase(ctx context.Context, id string) (model.Case, error) {
	c, err := scanCase(s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Case{}, fmt.Errorf("case %s: %w", id, model.ErrNotFound)
	}
	return c, err
}

// CaseCount returns the number of stored cases.
func (s *Store) CaseCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases`).Scan(&count)
	return count, err
}
