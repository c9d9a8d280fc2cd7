package audit

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("audit entry not found")
	ErrMissingAction     = errors.New("audit entry requires an action")
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// Severity classifies how serious an audited event is
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Outcome records whether the audited action succeeded
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Common categories. Category is a free-form tag; these are the ones
// the convenience loggers set.
const (
	CategoryGeneral        = "general"
	CategoryUserAction     = "user_action"
	CategorySystemEvent    = "system_event"
	CategorySecurity       = "security"
	CategoryDataAccess     = "data_access"
	CategoryDataChange     = "data_modification"
	CategoryAuthentication = "authentication"
	CategoryAuthorization  = "authorization"
	CategoryError          = "error"
	CategoryTransaction    = "transaction"
	CategoryCompliance     = "compliance"
	CategoryAuditAccess    = "audit_access"
)

// Entry is a single immutable audit record. DataHash covers the
// semantically meaningful fields only, so the same logical event always
// hashes identically regardless of severity or presentation.
type Entry struct {
	ID               string         `json:"id"`
	Timestamp        time.Time      `json:"timestamp"`
	UserID           string         `json:"user_id,omitempty"`
	Action           string         `json:"action"`
	Resource         string         `json:"resource,omitempty"`
	ResourceID       string         `json:"resource_id,omitempty"`
	Details          map[string]any `json:"details,omitempty"`
	Severity         Severity       `json:"severity"`
	Category         string         `json:"category"`
	Outcome          Outcome        `json:"outcome"`
	DataHash         string         `json:"data_hash"`
	EncryptedDetails string         `json:"encrypted_details,omitempty"`
}

// EntryParams carries the caller-supplied fields of a new entry
type EntryParams struct {
	UserID     string
	Action     string
	Resource   string
	ResourceID string
	Details    map[string]any
	Severity   Severity
	Category   string
	Outcome    Outcome
	// Sensitive marks the details for encryption at rest. Requires the
	// log to have been built with a cipher.
	Sensitive bool
}

// Filter narrows searches over the audit log
type Filter struct {
	StartDate  *time.Time
	EndDate    *time.Time
	UserID     string
	Action     string // substring match
	Resource   string
	Category   string
	Severity   Severity
	Outcome    Outcome
	SearchTerm string // free text across details, action, resource
	Limit      int
}

// Statistics aggregates a filtered slice of the log
type Statistics struct {
	TotalEntries int            `json:"total_entries"`
	ByCategory   map[string]int `json:"by_category"`
	BySeverity   map[string]int `json:"by_severity"`
	ByOutcome    map[string]int `json:"by_outcome"`
	ByAction     map[string]int `json:"by_action"`
	ByUser       map[string]int `json:"by_user"`
	RangeStart   *time.Time     `json:"range_start,omitempty"`
	RangeEnd     *time.Time     `json:"range_end,omitempty"`
	Evicted      uint64         `json:"evicted"`
}

// IntegrityResult reports a hash verification. A mismatch is a
// detection result, not an error.
type IntegrityResult struct {
	Valid        bool   `json:"valid"`
	ExpectedHash string `json:"expected_hash"`
	ActualHash   string `json:"actual_hash"`
}
