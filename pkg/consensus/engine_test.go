package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agrisafe_consensus/pkg/config"
)

func newTestEngine(t *testing.T, threshold int, timeout time.Duration) *Engine {
	t.Helper()
	e := NewEngine(config.ConsensusConfig{
		Threshold:   threshold,
		Timeout:     timeout,
		EventBuffer: 64,
	}, zap.NewNop())
	t.Cleanup(e.Close)
	return e
}

func registerValidators(t *testing.T, e *Engine, stakes ...float64) []string {
	t.Helper()
	addrs := make([]string, len(stakes))
	for i, stake := range stakes {
		addr := "0x" + string(rune('a'+i)) + "validator"
		_, err := e.RegisterValidator(addr, stake, nil)
		require.NoError(t, err)
		addrs[i] = addr
	}
	return addrs
}

func TestRegisterValidator(t *testing.T) {
	e := newTestEngine(t, 3, 30*time.Second)

	v, err := e.RegisterValidator("0xabc", 10, map[string]string{"name": "center-1"})
	require.NoError(t, err)
	assert.Equal(t, InitialReputation, v.Reputation)
	assert.True(t, v.IsActive)
	assert.Zero(t, v.TotalValidations)

	_, err = e.RegisterValidator("0xabc", 20, nil)
	assert.ErrorIs(t, err, ErrDuplicateValidator)

	_, err = e.RegisterValidator("0xdef", -1, nil)
	assert.ErrorIs(t, err, ErrInvalidStake)
}

func TestRemoveValidator(t *testing.T) {
	e := newTestEngine(t, 3, 30*time.Second)

	_, err := e.RemoveValidator("0xmissing")
	assert.ErrorIs(t, err, ErrValidatorNotFound)

	_, err = e.RegisterValidator("0xabc", 10, nil)
	require.NoError(t, err)

	removed, err := e.RemoveValidator("0xabc")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", removed.Address)
	assert.Empty(t, e.GetAllValidators())
}

func TestUpdateValidatorStake(t *testing.T) {
	e := newTestEngine(t, 3, 30*time.Second)

	_, err := e.UpdateValidatorStake("0xmissing", 5)
	assert.ErrorIs(t, err, ErrValidatorNotFound)

	_, err = e.RegisterValidator("0xabc", 10, nil)
	require.NoError(t, err)

	v, err := e.UpdateValidatorStake("0xabc", 25)
	require.NoError(t, err)
	assert.Equal(t, 25.0, v.Stake)
	assert.Equal(t, InitialReputation, v.Reputation)
}

func TestUnanimousApproval(t *testing.T) {
	e := newTestEngine(t, 3, 30*time.Second)
	addrs := registerValidators(t, e, 10, 20, 30)

	txID, err := e.SubmitTransaction(map[string]any{"amount": 100}, "0xgov")
	require.NoError(t, err)

	for _, addr := range addrs {
		_, err := e.ValidateTransaction(txID, addr, VoteRequest{IsValid: true, Reason: "looks good"})
		require.NoError(t, err)
	}

	history := e.GetConsensusHistory(0)
	require.Len(t, history, 1)
	assert.Equal(t, StatusApproved, history[0].Status)
	assert.InDelta(t, 100.0, history[0].Score, 0.001)
	assert.Empty(t, e.GetPendingTransactions())

	for _, addr := range addrs {
		perf, err := e.GetValidatorPerformance(addr)
		require.NoError(t, err)
		// +1 capped at the ceiling
		assert.Equal(t, MaxReputation, perf.Reputation)
		assert.Equal(t, uint64(1), perf.TotalValidations)
		assert.Equal(t, uint64(1), perf.SuccessfulValidations)
	}
}

func TestMajorityRejection(t *testing.T) {
	e := newTestEngine(t, 3, 30*time.Second)
	addrs := registerValidators(t, e, 10, 20, 30)

	txID, err := e.SubmitTransaction("payload", "0xgov")
	require.NoError(t, err)

	_, err = e.ValidateTransaction(txID, addrs[0], VoteRequest{IsValid: true})
	require.NoError(t, err)
	_, err = e.ValidateTransaction(txID, addrs[1], VoteRequest{IsValid: false, Reason: "missing receipts"})
	require.NoError(t, err)
	_, err = e.ValidateTransaction(txID, addrs[2], VoteRequest{IsValid: false, Reason: "missing receipts"})
	require.NoError(t, err)

	history := e.GetConsensusHistory(0)
	require.Len(t, history, 1)
	assert.Equal(t, StatusRejected, history[0].Status)
	// Winning side holds stakes 20 + 30 of a total 60.
	assert.InDelta(t, 50.0/60.0*100, history[0].Score, 0.001)

	wrong, err := e.GetValidatorPerformance(addrs[0])
	require.NoError(t, err)
	assert.Equal(t, InitialReputation-WrongVotePenalty, wrong.Reputation)

	for _, addr := range addrs[1:] {
		right, err := e.GetValidatorPerformance(addr)
		require.NoError(t, err)
		assert.Equal(t, MaxReputation, right.Reputation)
	}
}

func TestTieResolvesToRejected(t *testing.T) {
	e := newTestEngine(t, 4, 30*time.Second)
	addrs := registerValidators(t, e, 10, 10, 10, 10)

	txID, err := e.SubmitTransaction("payload", "0xgov")
	require.NoError(t, err)

	for i, addr := range addrs {
		_, err := e.ValidateTransaction(txID, addr, VoteRequest{IsValid: i%2 == 0})
		require.NoError(t, err)
	}

	history := e.GetConsensusHistory(0)
	require.Len(t, history, 1)
	assert.Equal(t, StatusRejected, history[0].Status)
}

func TestTimeoutWithNoVotes(t *testing.T) {
	e := newTestEngine(t, 3, 50*time.Millisecond)
	registerValidators(t, e, 10, 20, 30)

	txID, err := e.SubmitTransaction("payload", "0xgov")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(e.GetPendingTransactions()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	history := e.GetConsensusHistory(0)
	require.Len(t, history, 1)
	assert.Equal(t, StatusTimeout, history[0].Status)
	assert.Equal(t, txID, history[0].TransactionID)

	// A late vote must be rejected outright.
	_, err = e.ValidateTransaction(txID, "0xavalidator", VoteRequest{IsValid: true})
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestDuplicateVote(t *testing.T) {
	e := newTestEngine(t, 3, 30*time.Second)
	addrs := registerValidators(t, e, 10, 20, 30)

	txID, err := e.SubmitTransaction("payload", "0xgov")
	require.NoError(t, err)

	_, err = e.ValidateTransaction(txID, addrs[0], VoteRequest{IsValid: true})
	require.NoError(t, err)

	_, err = e.ValidateTransaction(txID, addrs[0], VoteRequest{IsValid: false})
	assert.ErrorIs(t, err, ErrDuplicateVote)

	pending := e.GetPendingTransactions()
	require.Len(t, pending, 1)
	require.Len(t, pending[0].Votes, 1)
	assert.True(t, pending[0].Votes[addrs[0]].Approve)
}

func TestVoteValidationFailures(t *testing.T) {
	e := newTestEngine(t, 3, 30*time.Second)
	addrs := registerValidators(t, e, 10)

	txID, err := e.SubmitTransaction("payload", "0xgov")
	require.NoError(t, err)

	_, err = e.ValidateTransaction(txID, "0xunknown", VoteRequest{IsValid: true})
	assert.ErrorIs(t, err, ErrValidatorNotRegistered)

	_, err = e.ValidateTransaction("no-such-tx", addrs[0], VoteRequest{IsValid: true})
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestNoVotesAfterResolution(t *testing.T) {
	e := newTestEngine(t, 2, 30*time.Second)
	addrs := registerValidators(t, e, 10, 20, 30)

	txID, err := e.SubmitTransaction("payload", "0xgov")
	require.NoError(t, err)

	_, err = e.ValidateTransaction(txID, addrs[0], VoteRequest{IsValid: true})
	require.NoError(t, err)
	_, err = e.ValidateTransaction(txID, addrs[1], VoteRequest{IsValid: true})
	require.NoError(t, err)

	// The round is terminal and gone from the pending set.
	_, err = e.ValidateTransaction(txID, addrs[2], VoteRequest{IsValid: false})
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	history := e.GetConsensusHistory(0)
	require.Len(t, history, 1)
	assert.Equal(t, StatusApproved, history[0].Status)
}

func TestReputationBounds(t *testing.T) {
	e := newTestEngine(t, 2, 30*time.Second)
	addrs := registerValidators(t, e, 10, 20)

	// Drive the first validator's reputation to the floor with a long
	// streak of wrong votes.
	for i := 0; i < 60; i++ {
		txID, err := e.SubmitTransaction(i, "0xgov")
		require.NoError(t, err)
		_, err = e.ValidateTransaction(txID, addrs[0], VoteRequest{IsValid: true})
		require.NoError(t, err)
		_, err = e.ValidateTransaction(txID, addrs[1], VoteRequest{IsValid: false})
		require.NoError(t, err)

		for _, addr := range addrs {
			perf, err := e.GetValidatorPerformance(addr)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, perf.Reputation, MinReputation)
			assert.LessOrEqual(t, perf.Reputation, MaxReputation)
		}
	}

	perf, err := e.GetValidatorPerformance(addrs[0])
	require.NoError(t, err)
	assert.Equal(t, MinReputation, perf.Reputation)
}

func TestForceConsensus(t *testing.T) {
	e := newTestEngine(t, 3, 30*time.Second)
	registerValidators(t, e, 10, 20, 30)

	txID, err := e.SubmitTransaction("payload", "0xgov")
	require.NoError(t, err)

	tx, err := e.ForceConsensus(txID, StatusApproved, "manual override after review")
	require.NoError(t, err)
	assert.True(t, tx.Forced)
	assert.Equal(t, StatusApproved, tx.Status)

	history := e.GetConsensusHistory(0)
	require.Len(t, history, 1)
	assert.True(t, history[0].Forced)
	assert.Equal(t, "manual override after review", history[0].ForceReason)

	// Forcing an already-terminal round fails rather than double-resolving.
	_, err = e.ForceConsensus(txID, StatusRejected, "again")
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	_, err = e.ForceConsensus(txID, Status("bogus"), "")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestPauseResume(t *testing.T) {
	e := newTestEngine(t, 3, 30*time.Second)

	e.Pause()
	_, err := e.SubmitTransaction("payload", "0xgov")
	assert.ErrorIs(t, err, ErrConsensusPaused)

	e.Resume()
	_, err = e.SubmitTransaction("payload", "0xgov")
	assert.NoError(t, err)
}

func TestConsensusStats(t *testing.T) {
	e := newTestEngine(t, 2, 30*time.Second)
	addrs := registerValidators(t, e, 10, 20)

	outcomes := []bool{true, true, false}
	for _, approve := range outcomes {
		txID, err := e.SubmitTransaction("payload", "0xgov")
		require.NoError(t, err)
		for _, addr := range addrs {
			_, err = e.ValidateTransaction(txID, addr, VoteRequest{IsValid: approve})
			require.NoError(t, err)
		}
	}

	stats := e.GetConsensusStats()
	assert.Equal(t, 3, stats.TotalTransactions)
	assert.Equal(t, 2, stats.ApprovedTransactions)
	assert.Equal(t, 1, stats.RejectedTransactions)
	assert.InDelta(t, 2.0/3.0*100, stats.ApprovalRate, 0.001)
	assert.Equal(t, 2, stats.ActiveValidators)
	assert.Equal(t, 30.0, stats.TotalStake)
	assert.GreaterOrEqual(t, stats.AverageConsensusTime, time.Duration(0))
}

func TestConsensusStartedEvent(t *testing.T) {
	e := newTestEngine(t, 3, 30*time.Second)
	registerValidators(t, e, 10, 30, 20)

	_, err := e.SubmitTransaction("payload", "0xgov")
	require.NoError(t, err)

	var started *ConsensusStarted
	for started == nil {
		select {
		case ev := <-e.Events():
			if s, ok := ev.(ConsensusStarted); ok {
				started = &s
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for consensusStarted event")
		}
	}

	require.Len(t, started.Validators, 3)
	assert.Equal(t, 3, started.Threshold)
	// Sorted by stake, highest first.
	assert.Equal(t, 30.0, started.Validators[0].Stake)
	assert.Equal(t, 20.0, started.Validators[1].Stake)
	assert.Equal(t, 10.0, started.Validators[2].Stake)
}

func TestTimerCancelledOnResolution(t *testing.T) {
	e := newTestEngine(t, 1, 100*time.Millisecond)
	addrs := registerValidators(t, e, 10)

	txID, err := e.SubmitTransaction("payload", "0xgov")
	require.NoError(t, err)
	_, err = e.ValidateTransaction(txID, addrs[0], VoteRequest{IsValid: true})
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)

	// The stale timer must not have produced a second resolution.
	history := e.GetConsensusHistory(0)
	require.Len(t, history, 1)
	assert.Equal(t, StatusApproved, history[0].Status)
}

func TestHistoryNewestFirst(t *testing.T) {
	e := newTestEngine(t, 1, 30*time.Second)
	addrs := registerValidators(t, e, 10)

	var last string
	for i := 0; i < 3; i++ {
		txID, err := e.SubmitTransaction(i, "0xgov")
		require.NoError(t, err)
		_, err = e.ValidateTransaction(txID, addrs[0], VoteRequest{IsValid: true})
		require.NoError(t, err)
		last = txID
	}

	history := e.GetConsensusHistory(2)
	require.Len(t, history, 2)
	assert.Equal(t, last, history[0].TransactionID)
}
