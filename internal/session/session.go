package session

import (
	"errors"
	"time"

	"github.com/sidneyarfe/divideai/internal/bill"
)

// Step is where a session is in the split wizard
type Step string

const (
	StepVerify Step = "verify" // Check extracted items and the service fee
	StepPeople Step = "people" // Who is at the table
	StepAssign Step = "assign" // Who had what
	StepResult Step = "result" // Per-person totals
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrInvalidStep      = errors.New("operation not allowed at this step")
	ErrNotFullyAssigned = errors.New("every item needs at least one person")
	ErrCurrentUser      = errors.New("the current user can't be removed")
	ErrEmptyName        = errors.New("name is required")
	ErrScanFailed       = errors.New("receipt could not be read")
)

// Session is one table splitting one bill
type Session struct {
	ID            string      `json:"id"`
	Step          Step        `json:"step"`
	Bill          *bill.Bill  `json:"bill"`
	OptIns        bill.OptIns `json:"opt_ins"`                  // Service fee overrides, seeded on entering the result step
	ImageFilename string      `json:"image_filename,omitempty"` // Stored receipt photo, empty for manual bills
	ContentType   string      `json:"content_type,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}
