package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/pavelanni/prognosis/internal/model"
)

// ImportLedger remembers the content hash of each imported case file.
// GetImportedFileHash returns "" for a file never imported.
type ImportLedger interface {
	GetImportedFileHash(ctx context.Context, path string) (string, error)
	SetImportedFileHash(ctx context.Context, path, hash string) error
}

// ImportCases loads JSON case files into the repository. Files already
// imported with the same content are skipped; files that changed since their
// import are skipped with a warning so existing sessions keep their cases.
// It returns the number of cases added.
func ImportCases(ctx context.Context, repo CaseRepository, ledger ImportLedger, paths []string) (int, error) {
	total := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return total, fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := ledger.GetImportedFileHash(ctx, path)
		if err != nil {
			return total, fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.InfoContext(ctx, "cases file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.WarnContext(ctx, "cases file changed since last import, skipping to avoid breaking existing sessions",
				"path", path)
			continue
		}

		cases, err := ParseCases(data)
		if err != nil {
			return total, fmt.Errorf("parse %s: %w", path, err)
		}
		for _, c := range cases {
			if _, err := repo.AddCase(ctx, c); err != nil {
				return total, fmt.Errorf("add case from %s: %w", path, err)
			}
			total++
		}

		if err := ledger.SetImportedFileHash(ctx, path, hash); err != nil {
			return total, fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.InfoContext(ctx, "imported cases", "path", path, "count", len(cases))
	}
	return total, nil
}

// ParseCases decodes a JSON array of cases and checks that each one carries
// the persona script and reference answers.
func ParseCases(data []byte) ([]model.Case, error) {
	var imports []model.CaseImport
	if err := json.Unmarshal(data, &imports); err != nil {
		return nil, err
	}
	cases := make([]model.Case, 0, len(imports))
	for i, ci := range imports {
		if err := model.RequireFields(
			"patient_name", ci.PatientName,
			"chief_complaint", ci.ChiefComplaint,
			"system_instruction", ci.SystemInstruction,
			"correct_diagnosis", ci.CorrectDiagnosis,
			"correct_treatment", ci.CorrectTreatment,
		); err != nil {
			return nil, fmt.Errorf("case %d: %w", i, err)
		}
		cases = append(cases, ci.Case(model.CaseImported))
	}
	return cases, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
