package session

import (
	"strings"
	"unicode"

	"github.com/pavelanni/prognosis/internal/model"
)

const (
	diagnosisMatch = 70
	diagnosisMiss  = 30
	treatmentMatch = 20
	treatmentMiss  = 10
	maxScore       = 100
)

// Score grades a submission against the case's reference answers.
func Score(c model.Case, diagnosis, treatment string) model.Score {
	d := diagnosisScore(diagnosis, c.CorrectDiagnosis)
	t := treatmentScore(treatment, c.CorrectTreatment)
	return model.Score{
		Diagnosis: d,
		Treatment: t,
		Total:     min(maxScore, d+t),
	}
}

// diagnosisScore matches when the submission is a case-insensitive substring
// of the correct diagnosis.
func diagnosisScore(submitted, correct string) int {
	submitted = strings.ToLower(submitted)
	if submitted == "" {
		return diagnosisMiss
	}
	if strings.Contains(strings.ToLower(correct), submitted) {
		return diagnosisMatch
	}
	return diagnosisMiss
}

// treatmentScore matches when any word of the correct treatment appears in
// the submission.
func treatmentScore(submitted, correct string) int {
	submitted = strings.ToLower(submitted)
	for _, w := range keywords(correct) {
		if strings.Contains(submitted, w) {
			return treatmentMatch
		}
	}
	return treatmentMiss
}

// keywords splits s on whitespace, lowercases each word and trims leading
// and trailing punctuation ("Aspirin," -> "aspirin"). Empty words are dropped.
func keywords(s string) []string {
	var out []string
	for _, f := range strings.Fields(strings.ToLower(s)) {
		w := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
