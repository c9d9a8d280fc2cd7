package consensus

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agrisafe_consensus/pkg/config"
)

// Engine runs stake-weighted transaction approval rounds. Validators
// vote on pending transactions; a round resolves once the vote
// threshold is met, the deadline passes, or an operator forces it.
type Engine struct {
	threshold int
	timeout   time.Duration

	validators map[string]*Validator
	pending    map[string]*Transaction
	history    []*Resolution
	timers     map[string]*time.Timer

	events  chan Event
	dropped uint64
	active  bool
	closed  bool

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewEngine creates a new consensus engine
func NewEngine(cfg config.ConsensusConfig, logger *zap.Logger) *Engine {
	return &Engine{
		threshold:  cfg.Threshold,
		timeout:    cfg.Timeout,
		validators: make(map[string]*Validator),
		pending:    make(map[string]*Transaction),
		timers:     make(map[string]*time.Timer),
		events:     make(chan Event, cfg.EventBuffer),
		active:     true,
		logger:     logger,
	}
}

// Events returns the engine's event stream. Events are dropped (and
// counted) if the channel is full, never blocking protocol progress.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// RegisterValidator adds a validator to the set
func (e *Engine) RegisterValidator(address string, stake float64, metadata map[string]string) (Validator, error) {
	if stake < 0 {
		return Validator{}, ErrInvalidStake
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return Validator{}, ErrEngineClosed
	}
	if _, exists := e.validators[address]; exists {
		return Validator{}, ErrDuplicateValidator
	}

	v := &Validator{
		Address:      address,
		Stake:        stake,
		IsActive:     true,
		Reputation:   InitialReputation,
		RegisteredAt: time.Now(),
		Metadata:     metadata,
	}
	e.validators[address] = v

	e.publish(ValidatorRegistered{Validator: copyValidator(v)})
	e.logger.Info("Validator registered",
		zap.String("address", address),
		zap.Float64("stake", stake))

	return copyValidator(v), nil
}

// RemoveValidator deletes a validator. Past resolutions keep the stake
// snapshots recorded at vote time and are unaffected.
func (e *Engine) RemoveValidator(address string) (Validator, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, exists := e.validators[address]
	if !exists {
		return Validator{}, ErrValidatorNotFound
	}
	delete(e.validators, address)

	e.publish(ValidatorRemoved{Validator: copyValidator(v)})
	e.logger.Info("Validator removed", zap.String("address", address))

	return copyValidator(v), nil
}

// UpdateValidatorStake changes the stake used in future vote weighting.
// Identity, reputation, and history are preserved.
func (e *Engine) UpdateValidatorStake(address string, newStake float64) (Validator, error) {
	if newStake < 0 {
		return Validator{}, ErrInvalidStake
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v, exists := e.validators[address]
	if !exists {
		return Validator{}, ErrValidatorNotFound
	}

	oldStake := v.Stake
	v.Stake = newStake

	e.publish(StakeUpdated{Address: address, OldStake: oldStake, NewStake: newStake})

	return copyValidator(v), nil
}

// SubmitTransaction creates a pending round and schedules its timeout
func (e *Engine) SubmitTransaction(data any, submitter string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return "", ErrEngineClosed
	}
	if !e.active {
		return "", ErrConsensusPaused
	}

	now := time.Now()
	tx := &Transaction{
		ID:          uuid.New().String(),
		Data:        data,
		Submitter:   submitter,
		SubmittedAt: now,
		Status:      StatusPending,
		Votes:       make(map[string]*Vote),
		Deadline:    now.Add(e.timeout),
	}
	e.pending[tx.ID] = tx

	e.publish(TransactionSubmitted{
		TransactionID: tx.ID,
		Submitter:     submitter,
		Deadline:      tx.Deadline,
	})
	e.publish(ConsensusStarted{
		TransactionID: tx.ID,
		Validators:    e.activeValidatorsByStakeLocked(),
		Threshold:     e.threshold,
	})

	id := tx.ID
	e.timers[id] = time.AfterFunc(e.timeout, func() {
		e.handleTimeout(id)
	})

	e.logger.Info("Transaction submitted for consensus",
		zap.String("transactionID", id),
		zap.String("submitter", submitter))

	return id, nil
}

// ValidateTransaction records one validator's vote on a pending round.
// The check-then-record sequence runs under a single lock so a vote can
// never land on a round that resolved concurrently.
func (e *Engine) ValidateTransaction(transactionID, validatorAddress string, req VoteRequest) (Vote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	validator, exists := e.validators[validatorAddress]
	if !exists {
		return Vote{}, ErrValidatorNotRegistered
	}

	tx, exists := e.pending[transactionID]
	if !exists {
		return Vote{}, ErrTransactionNotFound
	}
	if _, voted := tx.Votes[validatorAddress]; voted {
		return Vote{}, ErrDuplicateVote
	}
	if time.Now().After(tx.Deadline) {
		return Vote{}, ErrConsensusTimedOut
	}

	vote := &Vote{
		ValidatorAddress: validatorAddress,
		Approve:          req.IsValid,
		Reason:           req.Reason,
		Stake:            validator.Stake,
		Timestamp:        time.Now(),
	}
	tx.Votes[validatorAddress] = vote

	validator.TotalValidations++
	if req.IsValid {
		validator.SuccessfulValidations++
	}

	e.publish(VoteRecorded{TransactionID: transactionID, Vote: *vote})

	e.checkConsensusLocked(tx)

	return *vote, nil
}

// ForceConsensus jumps a pending round to the given terminal status,
// bypassing vote counting. The resolution is flagged as forced and no
// reputations are adjusted.
func (e *Engine) ForceConsensus(transactionID string, status Status, reason string) (Transaction, error) {
	switch status {
	case StatusApproved, StatusRejected, StatusTimeout:
	default:
		return Transaction{}, ErrInvalidStatus
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, exists := e.pending[transactionID]
	if !exists {
		return Transaction{}, ErrTransactionNotFound
	}

	tx.Forced = true
	tx.ForceReason = reason
	e.publish(ConsensusForced{TransactionID: transactionID, Status: status, Reason: reason})
	e.resolveLocked(tx, status)

	e.logger.Warn("Consensus forced",
		zap.String("transactionID", transactionID),
		zap.String("status", string(status)),
		zap.String("reason", reason))

	return *tx, nil
}

// Pause stops the engine from accepting new submissions. Rounds already
// pending continue to completion.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = false
	e.publish(Paused{})
}

// Resume re-enables submissions
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = true
	e.publish(Resumed{})
}

// UpdateConsensusThreshold changes the number of votes required to resolve
func (e *Engine) UpdateConsensusThreshold(newThreshold int) error {
	if newThreshold < 1 {
		return ErrInvalidThreshold
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.threshold
	e.threshold = newThreshold
	e.publish(ThresholdUpdated{OldThreshold: old, NewThreshold: newThreshold})
	return nil
}

// UpdateConsensusTimeout changes the deadline applied to future rounds
func (e *Engine) UpdateConsensusTimeout(newTimeout time.Duration) error {
	if newTimeout < time.Second {
		return ErrInvalidTimeout
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.timeout
	e.timeout = newTimeout
	e.publish(TimeoutUpdated{OldTimeout: old, NewTimeout: newTimeout})
	return nil
}

// GetValidatorPerformance returns one validator's voting record
func (e *Engine) GetValidatorPerformance(address string) (ValidatorPerformance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, exists := e.validators[address]
	if !exists {
		return ValidatorPerformance{}, ErrValidatorNotFound
	}

	successRate := 0.0
	if v.TotalValidations > 0 {
		successRate = float64(v.SuccessfulValidations) / float64(v.TotalValidations) * 100
	}

	return ValidatorPerformance{
		Address:               v.Address,
		Stake:                 v.Stake,
		Reputation:            v.Reputation,
		TotalValidations:      v.TotalValidations,
		SuccessfulValidations: v.SuccessfulValidations,
		SuccessRate:           successRate,
		RegisteredAt:          v.RegisteredAt,
	}, nil
}

// GetAllValidators returns a snapshot of the validator set
func (e *Engine) GetAllValidators() []Validator {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Validator, 0, len(e.validators))
	for _, v := range e.validators {
		out = append(out, copyValidator(v))
	}
	return out
}

// GetPendingTransactions returns a snapshot of unresolved rounds
func (e *Engine) GetPendingTransactions() []Transaction {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Transaction, 0, len(e.pending))
	for _, tx := range e.pending {
		out = append(out, copyTransaction(tx))
	}
	return out
}

// GetConsensusHistory returns up to limit resolutions, newest first
func (e *Engine) GetConsensusHistory(limit int) []Resolution {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := len(e.history)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Resolution, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, *e.history[i])
	}
	return out
}

// GetConsensusStats aggregates resolved rounds and the validator set
func (e *Engine) GetConsensusStats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Stats{
		TotalTransactions: len(e.history),
		ActiveValidators:  e.activeValidatorCountLocked(),
		TotalStake:        e.totalStakeLocked(),
		DroppedEvents:     e.dropped,
	}

	var totalLatency time.Duration
	for _, res := range e.history {
		switch res.Status {
		case StatusApproved:
			stats.ApprovedTransactions++
		case StatusRejected:
			stats.RejectedTransactions++
		case StatusTimeout:
			stats.TimeoutTransactions++
		}
		totalLatency += res.ResolvedAt.Sub(res.SubmittedAt)
	}

	if stats.TotalTransactions > 0 {
		stats.ApprovalRate = float64(stats.ApprovedTransactions) / float64(stats.TotalTransactions) * 100
		stats.AverageConsensusTime = totalLatency / time.Duration(stats.TotalTransactions)
	}

	return stats
}

// Status returns a point-in-time snapshot of engine state
func (e *Engine) Status() EngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return EngineStatus{
		Active:              e.active,
		Threshold:           e.threshold,
		Timeout:             e.timeout,
		ActiveValidators:    e.activeValidatorCountLocked(),
		PendingTransactions: len(e.pending),
		TotalStake:          e.totalStakeLocked(),
	}
}

// Close stops all outstanding timers and closes the event stream
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true

	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
	close(e.events)
}

// Internal methods. All assume e.mu is held for writing unless noted.

// checkConsensusLocked resolves the round once the vote threshold is
// met: strictly more approvals than rejections approves, anything else
// (including a tie) rejects.
func (e *Engine) checkConsensusLocked(tx *Transaction) {
	if len(tx.Votes) < e.threshold {
		return
	}

	approvals := 0
	for _, v := range tx.Votes {
		if v.Approve {
			approvals++
		}
	}
	rejections := len(tx.Votes) - approvals

	if approvals > rejections {
		e.resolveLocked(tx, StatusApproved)
	} else {
		e.resolveLocked(tx, StatusRejected)
	}
}

func (e *Engine) resolveLocked(tx *Transaction, status Status) {
	now := time.Now()
	tx.Status = status
	tx.ConsensusReached = true
	tx.ResolvedAt = now

	if timer, ok := e.timers[tx.ID]; ok {
		timer.Stop()
		delete(e.timers, tx.ID)
	}

	winning := make([]*Vote, 0, len(tx.Votes))
	var winningStake float64
	for _, v := range tx.Votes {
		if (status == StatusApproved) == v.Approve {
			winning = append(winning, v)
			winningStake += v.Stake
		}
	}

	score := 0.0
	if total := e.totalStakeLocked(); total > 0 {
		score = winningStake / total * 100
	}

	if !tx.Forced && (status == StatusApproved || status == StatusRejected) {
		e.updateReputationsLocked(tx, status == StatusApproved)
	}

	res := &Resolution{
		TransactionID: tx.ID,
		Status:        status,
		Votes:         winning,
		Score:         score,
		SubmittedAt:   tx.SubmittedAt,
		ResolvedAt:    now,
		Forced:        tx.Forced,
		ForceReason:   tx.ForceReason,
	}
	e.history = append(e.history, res)
	delete(e.pending, tx.ID)

	e.publish(ConsensusResolved{Resolution: *res})

	e.logger.Info("Consensus resolved",
		zap.String("transactionID", tx.ID),
		zap.String("status", string(status)),
		zap.Float64("score", score),
		zap.Int("votes", len(tx.Votes)))
}

func (e *Engine) handleTimeout(transactionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Resolved rounds leave the pending set, so a stale timer finds
	// nothing and returns.
	tx, exists := e.pending[transactionID]
	if !exists {
		return
	}

	e.resolveLocked(tx, StatusTimeout)
}

func (e *Engine) updateReputationsLocked(tx *Transaction, approved bool) {
	for _, vote := range tx.Votes {
		validator, exists := e.validators[vote.ValidatorAddress]
		if !exists {
			continue
		}

		if vote.Approve == approved {
			validator.Reputation = min(MaxReputation, validator.Reputation+CorrectVoteBonus)
		} else {
			validator.Reputation = max(MinReputation, validator.Reputation-WrongVotePenalty)
		}
	}
}

func (e *Engine) activeValidatorsByStakeLocked() []Validator {
	out := make([]Validator, 0, len(e.validators))
	for _, v := range e.validators {
		if v.IsActive {
			out = append(out, copyValidator(v))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Stake > out[j].Stake
	})
	return out
}

func (e *Engine) activeValidatorCountLocked() int {
	count := 0
	for _, v := range e.validators {
		if v.IsActive {
			count++
		}
	}
	return count
}

func (e *Engine) totalStakeLocked() float64 {
	var total float64
	for _, v := range e.validators {
		total += v.Stake
	}
	return total
}

// publish delivers an event without blocking. Must be called with e.mu held.
func (e *Engine) publish(ev Event) {
	if e.closed {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.dropped++
	}
}

func copyValidator(v *Validator) Validator {
	out := *v
	if v.Metadata != nil {
		out.Metadata = make(map[string]string, len(v.Metadata))
		for k, val := range v.Metadata {
			out.Metadata[k] = val
		}
	}
	return out
}

func copyTransaction(tx *Transaction) Transaction {
	out := *tx
	out.Votes = make(map[string]*Vote, len(tx.Votes))
	for addr, v := range tx.Votes {
		vote := *v
		out.Votes[addr] = &vote
	}
	return out
}
