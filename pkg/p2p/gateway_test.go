package p2p

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agrisafe_consensus/pkg/config"
	"agrisafe_consensus/pkg/consensus"
)

func newTestGateway(t *testing.T) (*Gateway, *consensus.Engine) {
	t.Helper()
	engine := consensus.NewEngine(config.ConsensusConfig{
		Threshold:   2,
		Timeout:     time.Minute,
		EventBuffer: 64,
	}, zap.NewNop())
	t.Cleanup(engine.Close)

	// Message handling does not require a live host.
	return &Gateway{engine: engine, logger: zap.NewNop()}, engine
}

func envelope(t *testing.T, msgType MessageType, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	msg := Message{
		Type:      msgType,
		Sender:    "remote-peer",
		Timestamp: time.Now(),
		Payload:   raw,
	}
	data, err := msg.Marshal()
	require.NoError(t, err)
	return data
}

func TestHandleRemoteVote(t *testing.T) {
	g, engine := newTestGateway(t)

	_, err := engine.RegisterValidator("0xavalidator", 100, nil)
	require.NoError(t, err)
	txID, err := engine.SubmitTransaction(map[string]any{"amount": 10.0}, "submitter")
	require.NoError(t, err)

	g.handleMessage(envelope(t, VoteMessage, VotePayload{
		TransactionID:    txID,
		ValidatorAddress: "0xavalidator",
		IsValid:          true,
	}))

	pending := engine.GetPendingTransactions()
	require.Len(t, pending, 1)
	assert.Len(t, pending[0].Votes, 1)

	stats := g.Stats()
	assert.Equal(t, uint64(1), stats.MessagesReceived)
	assert.Equal(t, uint64(1), stats.VotesForwarded)
}

func TestHandleVoteFromUnknownValidator(t *testing.T) {
	g, engine := newTestGateway(t)

	txID, err := engine.SubmitTransaction(map[string]any{"amount": 10.0}, "submitter")
	require.NoError(t, err)

	g.handleMessage(envelope(t, VoteMessage, VotePayload{
		TransactionID:    txID,
		ValidatorAddress: "0xunknown",
		IsValid:          true,
	}))

	assert.Zero(t, g.Stats().VotesForwarded)
	pending := engine.GetPendingTransactions()
	require.Len(t, pending, 1)
	assert.Empty(t, pending[0].Votes)
}

func TestHandleRemoteTransaction(t *testing.T) {
	g, engine := newTestGateway(t)

	g.handleMessage(envelope(t, TransactionMessage, TransactionPayload{
		Data:      map[string]any{"amount": 25.0},
		Submitter: "remote-center",
	}))

	assert.Len(t, engine.GetPendingTransactions(), 1)
}

func TestHandleMalformedMessage(t *testing.T) {
	g, _ := newTestGateway(t)

	g.handleMessage([]byte("not json"))
	assert.Equal(t, uint64(1), g.Stats().MessagesDropped)
	assert.Zero(t, g.Stats().MessagesReceived)
}
