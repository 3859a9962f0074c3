package registration

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Field limits for submissions.
const (
	serialMinLen = 3
	serialMaxLen = 50
	modelMinLen  = 2
	modelMaxLen  = 50
	notesMaxLen  = 1000
	reasonMaxLen = 1000
)

var serialPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateSubmission checks a submission and returns all problems at once,
// wrapped in ErrInvalidInput.
func ValidateSubmission(s Submission) error {
	var problems []string

	serialLen := utf8.RuneCountInString(s.SerialNumber)
	switch {
	case serialLen < serialMinLen || serialLen > serialMaxLen:
		problems = append(problems, fmt.Sprintf("serialNumber must be %d-%d characters", serialMinLen, serialMaxLen))
	case !serialPattern.MatchString(s.SerialNumber):
		problems = append(problems, "serialNumber may only contain letters, digits, '-' and '_'")
	}

	modelLen := utf8.RuneCountInString(strings.TrimSpace(s.Model))
	if modelLen < modelMinLen || modelLen > modelMaxLen {
		problems = append(problems, fmt.Sprintf("model must be %d-%d characters", modelMinLen, modelMaxLen))
	}

	if utf8.RuneCountInString(s.Notes) > notesMaxLen {
		problems = append(problems, fmt.Sprintf("notes must be at most %d characters", notesMaxLen))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

// validateAction checks an admin action.
func validateAction(a AdminAction) error {
	if a.RequestID == "" {
		return fmt.Errorf("%w: requestId is required", ErrInvalidInput)
	}
	if a.Action != ActionApprove && a.Action != ActionReject {
		return fmt.Errorf("%w: action must be APPROVE or REJECT", ErrInvalidInput)
	}
	if utf8.RuneCountInString(a.RejectionReason) > reasonMaxLen {
		return fmt.Errorf("%w: rejectionReason must be at most %d characters", ErrInvalidInput, reasonMaxLen)
	}
	return nil
}
