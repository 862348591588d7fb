package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pavelanni/prognosis/internal/model"
)

// DefaultCases returns the case templates written to an empty repository.
func DefaultCases() []model.Case {
	return []model.Case{
		{
			PatientName:    "John Smith",
			Age:            45,
			Gender:         "Male",
			ChiefComplaint: "Chest pain for 2 hours",
			Vitals: model.Vitals{
				BloodPressure:    "160/95",
				HeartRate:        110,
				Temperature:      98.6,
				RespiratoryRate:  22,
				OxygenSaturation: 96,
			},
			History:           "Patient has a history of hypertension and smoking",
			SystemInstruction: "You are John Smith, a 45-year-old male presenting with chest pain. You are anxious and worried about having a heart attack. Answer medical student questions as this patient would, describing symptoms of acute coronary syndrome.",
			CorrectDiagnosis:  "Acute Coronary Syndrome",
			CorrectTreatment:  "Aspirin, nitroglycerin, oxygen, morphine, and urgent cardiology consultation",
			CaseType:          model.CasePredefined,
		},
		{
			PatientName:    "Sarah Johnson",
			Age:            28,
			Gender:         "Female",
			ChiefComplaint: "Severe abdominal pain",
			Vitals: model.Vitals{
				BloodPressure:    "120/80",
				HeartRate:        95,
				Temperature:      101.2,
				RespiratoryRate:  18,
				OxygenSaturation: 98,
			},
			History:           "No significant past medical history",
			SystemInstruction: "You are Sarah Johnson, a 28-year-old female with severe right lower quadrant abdominal pain. You are experiencing nausea and have had one episode of vomiting. Answer questions as this patient would, describing symptoms of acute appendicitis.",
			CorrectDiagnosis:  "Acute Appendicitis",
			CorrectTreatment:  "IV antibiotics, pain management, and urgent surgical consultation for appendectomy",
			CaseType:          model.CasePredefined,
		},
		{
			PatientName:    "Robert Davis",
			Age:            68,
			Gender:         "Male",
			ChiefComplaint: "Sudden onset of left-sided weakness and difficulty speaking",
			Vitals: model.Vitals{
				BloodPressure:    "190/110",
				HeartRate:        85,
				Temperature:      99.0,
				RespiratoryRate:  16,
				OxygenSaturation: 97,
			},
			History:           "Patient has a history of atrial fibrillation and high cholesterol",
			SystemInstruction: "You are Robert Davis, a 68-year-old male. You suddenly experienced weakness in your left arm and leg and now have trouble forming words. You are confused and slightly disoriented. Answer medical student questions as this patient would, describing symptoms of a stroke.",
			CorrectDiagnosis:  "Ischemic Stroke",
			CorrectTreatment:  "Immediate neurological assessment, CT scan of the head, consideration for thrombolytic therapy (tPA) or mechanical thrombectomy, and supportive care",
			CaseType:          model.CasePredefined,
		},
		{
			PatientName:    "Maria Garcia",
			Age:            35,
			Gender:         "Female",
			ChiefComplaint: "Shortness of breath and cough",
			Vitals: model.Vitals{
				BloodPressure:    "115/75",
				HeartRate:        105,
				Temperature:      102.5,
				RespiratoryRate:  24,
				OxygenSaturation: 93,
			},
			History:           "Patient has a history of asthma and recently traveled internationally",
			SystemInstruction: "You are Maria Garcia, a 35-year-old female. You have been experiencing a persistent cough and shortness of breath for the past three days. You feel feverish and fatigued. Answer medical student questions as this patient would, describing symptoms of a lower respiratory tract infection.",
			CorrectDiagnosis:  "Community-Acquired Pneumonia",
			CorrectTreatment:  "Prescribe appropriate antibiotics (e.g., azithromycin or doxycycline), supportive care with fluids and rest, and follow-up in 2-3 days",
			CaseType:          model.CasePredefined,
		},
	}
}

// SeedDefaults writes DefaultCases to the repository and returns how many
// were added.
func SeedDefaults(ctx context.Context, repo CaseRepository) (int, error) {
	cases := DefaultCases()
	for _, c := range cases {
		if _, err := repo.AddCase(ctx, c); err != nil {
			return 0, fmt.Errorf("seed case %q: %w", c.PatientName, err)
		}
	}
	slog.InfoContext(ctx, "seeded default cases", "count", len(cases))
	return len(cases), nil
}
