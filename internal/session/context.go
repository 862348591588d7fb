package session

import (
	"strings"

	"github.com/pavelanni/prognosis/internal/model"
)

// BuildContext renders the transcript as the conversation block of the
// patient prompt, one "Student:/Patient:" pair per turn in order.
func BuildContext(turns []model.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		sb.WriteString("Student: " + t.UserInput + "\n")
		sb.WriteString("Patient: " + t.AIResponse + "\n\n")
	}
	return sb.String()
}
