package episode

import (
	"errors"
	"fmt"
)

var (
	// ErrRead indicates a required array is missing or unreadable.
	ErrRead = errors.New("array read failed")

	// ErrInconsistentLength indicates the trial arrays disagree on their leading dimension.
	ErrInconsistentLength = errors.New("array lengths are not consistent")

	// ErrEmptyTrial indicates every time index was filtered out.
	ErrEmptyTrial = errors.New("no valid steps")
)

// SkipReason classifies why a trial produced no episode.
type SkipReason string

const (
	ReasonLookup      SkipReason = "lookup"
	ReasonRead        SkipReason = "read"
	ReasonConsistency SkipReason = "consistency"
	ReasonEmpty       SkipReason = "empty"
	ReasonOpen        SkipReason = "open"
)

// SkipError reports a trial that was left out of the dataset.
type SkipError struct {
	Reason   SkipReason
	FilePath string
	TrialID  string
	Err      error
}

func (e *SkipError) Error() string {
	if e.TrialID == "" {
		return fmt.Sprintf("skip %s (%s): %v", e.FilePath, e.Reason, e.Err)
	}
	return fmt.Sprintf("skip %s, trial %s (%s): %v", e.FilePath, e.TrialID, e.Reason, e.Err)
}

func (e *SkipError) Unwrap() error {
	return e.Err
}

// Message is the operator-facing diagnostic for the skip.
func (e *SkipError) Message() string {
	switch e.Reason {
	case ReasonLookup:
		return fmt.Sprintf("No matching instruction for %s!", e.FilePath)
	case ReasonRead:
		return fmt.Sprintf("Could not load data for %s, trial %s.", e.FilePath, e.TrialID)
	case ReasonConsistency:
		return fmt.Sprintf("Array lengths are not consistent for %s, trial %s.", e.FilePath, e.TrialID)
	case ReasonEmpty:
		return fmt.Sprintf("No valid steps left for %s, trial %s.", e.FilePath, e.TrialID)
	case ReasonOpen:
		return fmt.Sprintf("Could not open %s.", e.FilePath)
	default:
		return e.Error()
	}
}
