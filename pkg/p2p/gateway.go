package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pHost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"agrisafe_consensus/pkg/config"
	"agrisafe_consensus/pkg/consensus"
)

const connectionTimeout = 30 * time.Second

// Metrics counts gateway traffic
type Metrics struct {
	MessagesPublished uint64
	MessagesReceived  uint64
	MessagesDropped   uint64
	VotesForwarded    uint64
}

// Gateway connects a consensus engine to a gossip topic. Outbound, it
// publishes engine events; inbound, it forwards remote votes into the
// engine. The engine works identically with or without a gateway
// attached.
type Gateway struct {
	host    libp2pHost.Host
	pubsub  *pubsub.PubSub
	topic   *pubsub.Topic
	sub     *pubsub.Subscription
	engine  *consensus.Engine
	metrics Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewGateway starts a libp2p host, joins the configured topic, dials
// the bootstrap peers, and begins forwarding messages
func NewGateway(ctx context.Context, cfg config.P2PConfig, engine *consensus.Engine, logger *zap.Logger) (*Gateway, error) {
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.Port)),
		libp2p.NATPortMap(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("creating pubsub: %w", err)
	}

	topic, err := ps.Join(cfg.Topic)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("joining topic %s: %w", cfg.Topic, err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		h.Close()
		return nil, fmt.Errorf("subscribing to topic: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		host:   h,
		pubsub: ps,
		topic:  topic,
		sub:    sub,
		engine: engine,
		cancel: cancel,
		logger: logger,
	}

	g.connectBootstrapPeers(ctx, cfg.BootstrapPeers)

	g.wg.Add(1)
	go g.readLoop(loopCtx)

	logger.Info("P2P gateway started",
		zap.String("peerID", h.ID().String()),
		zap.String("topic", cfg.Topic),
		zap.Int("port", cfg.Port))
	return g, nil
}

// PeerID returns this node's libp2p identity
func (g *Gateway) PeerID() string {
	return g.host.ID().String()
}

// PeerCount returns the number of connected peers
func (g *Gateway) PeerCount() int {
	return len(g.host.Network().Peers())
}

// PublishEvent broadcasts a consensus event to the topic
func (g *Gateway) PublishEvent(ctx context.Context, event consensus.Event) error {
	payload, err := json.Marshal(EventPayload{Kind: event.Kind(), Event: event})
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return g.publish(ctx, ConsensusEventMessage, payload)
}

// PublishVote broadcasts a local validator's vote
func (g *Gateway) PublishVote(ctx context.Context, vote VotePayload) error {
	payload, err := json.Marshal(vote)
	if err != nil {
		return fmt.Errorf("encoding vote: %w", err)
	}
	return g.publish(ctx, VoteMessage, payload)
}

// Stats returns a copy of the traffic counters
func (g *Gateway) Stats() Metrics {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.metrics
}

// Close stops the read loop and shuts the host down
func (g *Gateway) Close() error {
	g.cancel()
	g.sub.Cancel()
	g.wg.Wait()

	if err := g.topic.Close(); err != nil {
		g.logger.Warn("Closing topic", zap.Error(err))
	}
	return g.host.Close()
}

// Internal methods

func (g *Gateway) publish(ctx context.Context, msgType MessageType, payload json.RawMessage) error {
	msg := Message{
		Type:      msgType,
		Sender:    g.host.ID().String(),
		Timestamp: time.Now(),
		Payload:   payload,
	}
	data, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if err := g.topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("publishing message: %w", err)
	}

	g.mu.Lock()
	g.metrics.MessagesPublished++
	g.mu.Unlock()
	return nil
}

func (g *Gateway) connectBootstrapPeers(ctx context.Context, addrs []string) {
	for _, addr := range addrs {
		maddr, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			g.logger.Warn("Invalid bootstrap address",
				zap.String("addr", addr), zap.Error(err))
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			g.logger.Warn("Invalid bootstrap peer info",
				zap.String("addr", addr), zap.Error(err))
			continue
		}

		dialCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
		if err := g.host.Connect(dialCtx, *info); err != nil {
			g.logger.Warn("Bootstrap peer unreachable",
				zap.String("peer", info.ID.String()), zap.Error(err))
		} else {
			g.logger.Info("Connected to bootstrap peer",
				zap.String("peer", info.ID.String()))
		}
		cancel()
	}
}

func (g *Gateway) readLoop(ctx context.Context) {
	defer g.wg.Done()

	for {
		msg, err := g.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			g.logger.Warn("Reading from subscription", zap.Error(err))
			return
		}

		// Skip our own messages.
		if msg.ReceivedFrom == g.host.ID() {
			continue
		}
		g.handleMessage(msg.Data)
	}
}

func (g *Gateway) handleMessage(data []byte) {
	var msg Message
	if err := msg.Unmarshal(data); err != nil {
		g.logger.Warn("Dropping malformed message", zap.Error(err))
		g.mu.Lock()
		g.metrics.MessagesDropped++
		g.mu.Unlock()
		return
	}

	g.mu.Lock()
	g.metrics.MessagesReceived++
	g.mu.Unlock()

	switch msg.Type {
	case VoteMessage:
		g.handleVote(msg)
	case ConsensusEventMessage:
		// Remote events are informational only.
		g.logger.Debug("Received remote consensus event",
			zap.String("sender", msg.Sender))
	case TransactionMessage:
		g.handleTransaction(msg)
	default:
		g.logger.Warn("Unknown message type", zap.String("type", string(msg.Type)))
	}
}

func (g *Gateway) handleVote(msg Message) {
	var vote VotePayload
	if err := json.Unmarshal(msg.Payload, &vote); err != nil {
		g.logger.Warn("Dropping malformed vote", zap.Error(err))
		g.mu.Lock()
		g.metrics.MessagesDropped++
		g.mu.Unlock()
		return
	}

	_, err := g.engine.ValidateTransaction(vote.TransactionID, vote.ValidatorAddress, consensus.VoteRequest{
		IsValid: vote.IsValid,
		Reason:  vote.Reason,
	})
	if err != nil {
		g.logger.Warn("Remote vote rejected",
			zap.String("transactionID", vote.TransactionID),
			zap.String("validator", vote.ValidatorAddress),
			zap.Error(err))
		return
	}

	g.mu.Lock()
	g.metrics.VotesForwarded++
	g.mu.Unlock()

	g.logger.Info("Remote vote recorded",
		zap.String("transactionID", vote.TransactionID),
		zap.String("validator", vote.ValidatorAddress),
		zap.Bool("isValid", vote.IsValid))
}

func (g *Gateway) handleTransaction(msg Message) {
	var tx TransactionPayload
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		g.logger.Warn("Dropping malformed transaction", zap.Error(err))
		g.mu.Lock()
		g.metrics.MessagesDropped++
		g.mu.Unlock()
		return
	}

	id, err := g.engine.SubmitTransaction(tx.Data, tx.Submitter)
	if err != nil {
		g.logger.Warn("Remote transaction rejected",
			zap.String("submitter", tx.Submitter),
			zap.Error(err))
		return
	}

	g.logger.Info("Remote transaction submitted",
		zap.String("transactionID", id),
		zap.String("submitter", tx.Submitter))
}
