package p2p

import (
	"encoding/json"
	"time"
)

// MessageType tags gossip envelopes
type MessageType string

const (
	ConsensusEventMessage MessageType = "CONSENSUS_EVENT"
	VoteMessage           MessageType = "VOTE"
	TransactionMessage    MessageType = "TRANSACTION"
)

// Message is the wire envelope exchanged over the gossip topic
type Message struct {
	Type      MessageType     `json:"type"`
	Sender    string          `json:"sender"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// EventPayload carries a consensus event to remote peers
type EventPayload struct {
	Kind  string `json:"kind"`
	Event any    `json:"event"`
}

// VotePayload is a remote validator's vote on a pending transaction
type VotePayload struct {
	TransactionID    string `json:"transaction_id"`
	ValidatorAddress string `json:"validator_address"`
	IsValid          bool   `json:"is_valid"`
	Reason           string `json:"reason,omitempty"`
}

// TransactionPayload announces a transaction submitted elsewhere
type TransactionPayload struct {
	Data      any    `json:"data"`
	Submitter string `json:"submitter"`
}

func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

func (m *Message) Unmarshal(data []byte) error {
	return json.Unmarshal(data, m)
}
