package consensus

import (
	"errors"
	"time"
)

// Error variables for consistent error handling
var (
	ErrDuplicateValidator     = errors.New("validator already registered")
	ErrValidatorNotFound      = errors.New("validator not found")
	ErrValidatorNotRegistered = errors.New("validator not registered")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrDuplicateVote          = errors.New("validator already voted on this transaction")
	ErrConsensusTimedOut      = errors.New("transaction validation deadline passed")
	ErrConsensusPaused        = errors.New("consensus engine is paused")
	ErrInvalidStake           = errors.New("stake cannot be negative")
	ErrInvalidThreshold       = errors.New("consensus threshold must be at least 1")
	ErrInvalidTimeout         = errors.New("consensus timeout must be at least 1s")
	ErrInvalidStatus          = errors.New("invalid consensus status")
	ErrEngineClosed           = errors.New("consensus engine is closed")
)

// Status represents the state of a transaction in consensus
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusTimeout  Status = "timeout"
)

// Reputation bounds and adjustments. Wrong votes cost more than right
// votes gain, biasing long-run reputation toward correct voters.
const (
	MinReputation     = 0
	MaxReputation     = 100
	InitialReputation = 100
	CorrectVoteBonus  = 1
	WrongVotePenalty  = 2
)

// Validator represents a registered, stake-weighted validator
type Validator struct {
	Address               string            `json:"address"`
	Stake                 float64           `json:"stake"`
	IsActive              bool              `json:"is_active"`
	Reputation            int               `json:"reputation"`
	TotalValidations      uint64            `json:"total_validations"`
	SuccessfulValidations uint64            `json:"successful_validations"`
	RegisteredAt          time.Time         `json:"registered_at"`
	Metadata              map[string]string `json:"metadata,omitempty"`
}

// Vote represents one validator's vote on one transaction. Stake is a
// snapshot of the validator's stake at vote time.
type Vote struct {
	ValidatorAddress string    `json:"validator_address"`
	Approve          bool      `json:"approve"`
	Reason           string    `json:"reason,omitempty"`
	Stake            float64   `json:"stake"`
	Timestamp        time.Time `json:"timestamp"`
}

// VoteRequest carries a validator's decision into ValidateTransaction
type VoteRequest struct {
	IsValid bool
	Reason  string
}

// Transaction represents one consensus round
type Transaction struct {
	ID               string           `json:"id"`
	Data             any              `json:"data"`
	Submitter        string           `json:"submitter"`
	SubmittedAt      time.Time        `json:"submitted_at"`
	Status           Status           `json:"status"`
	Votes            map[string]*Vote `json:"votes"`
	ConsensusReached bool             `json:"consensus_reached"`
	ResolvedAt       time.Time        `json:"resolved_at,omitempty"`
	Deadline         time.Time        `json:"deadline"`
	Forced           bool             `json:"forced,omitempty"`
	ForceReason      string           `json:"force_reason,omitempty"`
}

// Resolution is the terminal record of a consensus round, kept in history
type Resolution struct {
	TransactionID string    `json:"transaction_id"`
	Status        Status    `json:"status"`
	Votes         []*Vote   `json:"votes,omitempty"`
	Score         float64   `json:"score"`
	SubmittedAt   time.Time `json:"submitted_at"`
	ResolvedAt    time.Time `json:"resolved_at"`
	Forced        bool      `json:"forced,omitempty"`
	ForceReason   string    `json:"force_reason,omitempty"`
}

// Stats aggregates resolved rounds and the current validator set
type Stats struct {
	TotalTransactions    int           `json:"total_transactions"`
	ApprovedTransactions int           `json:"approved_transactions"`
	RejectedTransactions int           `json:"rejected_transactions"`
	TimeoutTransactions  int           `json:"timeout_transactions"`
	ApprovalRate         float64       `json:"approval_rate"`
	AverageConsensusTime time.Duration `json:"average_consensus_time"`
	ActiveValidators     int           `json:"active_validators"`
	TotalStake           float64       `json:"total_stake"`
	DroppedEvents        uint64        `json:"dropped_events"`
}

// EngineStatus is a point-in-time snapshot of engine state
type EngineStatus struct {
	Active              bool          `json:"active"`
	Threshold           int           `json:"threshold"`
	Timeout             time.Duration `json:"timeout"`
	ActiveValidators    int           `json:"active_validators"`
	PendingTransactions int           `json:"pending_transactions"`
	TotalStake          float64       `json:"total_stake"`
}

// ValidatorPerformance summarizes one validator's voting record
type ValidatorPerformance struct {
	Address               string    `json:"address"`
	Stake                 float64   `json:"stake"`
	Reputation            int       `json:"reputation"`
	TotalValidations      uint64    `json:"total_validations"`
	SuccessfulValidations uint64    `json:"successful_validations"`
	SuccessRate           float64   `json:"success_rate"`
	RegisteredAt          time.Time `json:"registered_at"`
}
