package consensus

import "time"

// Event is a notification published by the engine. Concrete payload
// types are statically known; observers switch on the event type.
type Event interface {
	Kind() string
}

// ValidatorRegistered is published when a validator joins the set
type ValidatorRegistered struct {
	Validator Validator
}

// ValidatorRemoved is published when a validator is deleted
type ValidatorRemoved struct {
	Validator Validator
}

// StakeUpdated is published when a validator's stake changes
type StakeUpdated struct {
	Address  string
	OldStake float64
	NewStake float64
}

// TransactionSubmitted is published when a round is created
type TransactionSubmitted struct {
	TransactionID string
	Submitter     string
	Deadline      time.Time
}

// ConsensusStarted notifies observers which validators should vote.
// Validators are sorted by stake, highest first.
type ConsensusStarted struct {
	TransactionID string
	Validators    []Validator
	Threshold     int
}

// VoteRecorded is published for every accepted vote
type VoteRecorded struct {
	TransactionID string
	Vote          Vote
}

// ConsensusResolved is published when a round reaches a terminal state,
// whether by votes, timeout, or forced override.
type ConsensusResolved struct {
	Resolution Resolution
}

// ConsensusForced is published when an operator overrides a pending
// round. A ConsensusResolved event for the same round follows.
type ConsensusForced struct {
	TransactionID string
	Status        Status
	Reason        string
}

// ThresholdUpdated is published when the vote threshold changes
type ThresholdUpdated struct {
	OldThreshold int
	NewThreshold int
}

// TimeoutUpdated is published when the round timeout changes
type TimeoutUpdated struct {
	OldTimeout time.Duration
	NewTimeout time.Duration
}

// Paused is published when the engine stops accepting submissions
type Paused struct{}

// Resumed is published when the engine accepts submissions again
type Resumed struct{}

func (ValidatorRegistered) Kind() string   { return "validatorRegistered" }
func (ValidatorRemoved) Kind() string      { return "validatorRemoved" }
func (StakeUpdated) Kind() string          { return "validatorStakeUpdated" }
func (TransactionSubmitted) Kind() string  { return "transactionSubmitted" }
func (ConsensusStarted) Kind() string      { return "consensusStarted" }
func (VoteRecorded) Kind() string          { return "transactionValidated" }
func (ConsensusResolved) Kind() string     { return "consensusResolved" }
func (ConsensusForced) Kind() string       { return "consensusForced" }
func (ThresholdUpdated) Kind() string      { return "consensusThresholdUpdated" }
func (TimeoutUpdated) Kind() string        { return "consensusTimeoutUpdated" }
func (Paused) Kind() string                { return "consensusPaused" }
func (Resumed) Kind() string               { return "consensusResumed" }
