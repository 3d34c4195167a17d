package relay

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/g960059/osrelay/internal/metrics"
	"github.com/g960059/osrelay/internal/model"
	"github.com/g960059/osrelay/internal/protocol"
)

// Sink receives durable-write requests. Implementations must not block.
type Sink interface {
	EnqueueSnapshot(instanceID string, snapshot json.RawMessage)
	EnqueueOffline(instanceID string)
}

type Options struct {
	Registry       *Registry
	LogHistorySize int
	Sink           Sink
	Logger         log.Logger
	Metrics        *metrics.Relay
}

// Engine fans instance updates out to browser subscribers, replays cached
// state to late joiners and delivers commands to instances.
type Engine struct {
	registry *Registry
	feed     *FeedStore
	sink     Sink
	logger   log.Logger
	metrics  *metrics.Relay

	// feedMu orders feed updates against subscription replay so a new
	// subscriber sees either the replayed value or the live broadcast of
	// every update, never neither.
	feedMu sync.Mutex
}

func NewEngine(opts Options) *Engine {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	return &Engine{
		registry: opts.Registry,
		feed:     NewFeedStore(opts.LogHistorySize),
		sink:     opts.Sink,
		logger:   log.With(opts.Logger, "component", "relay"),
		metrics:  opts.Metrics,
	}
}

func (e *Engine) Registry() *Registry { return e.registry }

// ConnectInstance registers conn for instanceID and closes the connection it
// supersedes.
func (e *Engine) ConnectInstance(instanceID string, conn Conn) {
	previous := e.registry.RegisterInstance(instanceID, conn)
	if previous == nil {
		return
	}
	level.Info(e.logger).Log("msg", "instance connection superseded", "instance_id", instanceID, "conn_id", previous.ID())
	if err := previous.Close(protocol.CloseSuperseded, "superseded"); err != nil {
		level.Debug(e.logger).Log("msg", "close superseded connection", "instance_id", instanceID, "err", err)
	}
}

// DisconnectInstance releases conn. It returns true when conn was the live
// connection for instanceID, in which case the instance is queued to be
// marked offline after any pending snapshot write.
func (e *Engine) DisconnectInstance(instanceID string, conn Conn) bool {
	if !e.registry.UnregisterInstance(instanceID, conn) {
		return false
	}
	if e.sink != nil {
		e.sink.EnqueueOffline(instanceID)
	}
	return true
}

func (e *Engine) InstanceConnected(instanceID string) bool {
	_, ok := e.registry.Instance(instanceID)
	return ok
}

// Subscribe registers a browser and replays the cached snapshot followed,
// for roles above viewer, by the buffered log history. A failed replay
// send unregisters the subscription and returns the error.
func (e *Engine) Subscribe(sub Subscription) error {
	e.feedMu.Lock()
	defer e.feedMu.Unlock()

	e.registry.RegisterBrowser(sub.InstanceID, sub.Conn, sub.Role, sub.UserID)
	if snapshot, ok := e.feed.Snapshot(sub.InstanceID); ok {
		if err := e.send(sub.Conn, protocol.StateMessage(snapshot)); err != nil {
			e.registry.UnregisterBrowser(sub.InstanceID, sub.Conn)
			return fmt.Errorf("replay snapshot: %w", err)
		}
	}
	if sub.Role == model.LowestRole {
		return nil
	}
	if history := e.feed.LogHistory(sub.InstanceID); len(history) > 0 {
		if err := e.send(sub.Conn, protocol.LogHistoryMessage(history)); err != nil {
			e.registry.UnregisterBrowser(sub.InstanceID, sub.Conn)
			return fmt.Errorf("replay log history: %w", err)
		}
	}
	return nil
}

func (e *Engine) Unsubscribe(instanceID string, conn Conn) {
	e.registry.UnregisterBrowser(instanceID, conn)
}

// HandleState replaces the cached snapshot, queues it for persistence and
// broadcasts it to every subscriber.
func (e *Engine) HandleState(instanceID string, snapshot json.RawMessage) {
	body, err := protocol.Encode(protocol.StateMessage(snapshot))
	if err != nil {
		level.Warn(e.logger).Log("msg", "drop state update", "instance_id", instanceID, "err", err)
		return
	}
	e.feedMu.Lock()
	e.feed.SetSnapshot(instanceID, snapshot)
	targets := e.registry.Subscribers(instanceID)
	e.feedMu.Unlock()

	if e.sink != nil {
		e.sink.EnqueueSnapshot(instanceID, snapshot)
	}
	e.deliver(instanceID, targets, body)
	e.metrics.Broadcast(string(protocol.KindState))
}

// HandleLog buffers entry and broadcasts it to every subscriber above
// viewer.
func (e *Engine) HandleLog(instanceID string, entry json.RawMessage) {
	body, err := protocol.Encode(protocol.LogMessage(entry))
	if err != nil {
		level.Warn(e.logger).Log("msg", "drop log entry", "instance_id", instanceID, "err", err)
		return
	}
	e.feedMu.Lock()
	e.feed.AppendLog(instanceID, entry)
	targets := e.registry.Subscribers(instanceID, model.LowestRole)
	e.feedMu.Unlock()

	e.deliver(instanceID, targets, body)
	e.metrics.Broadcast(string(protocol.KindLog))
}

// Broadcast sends msg to every subscriber of instanceID whose role is not
// excluded. Subscribers that fail are removed and closed once the fan-out
// completes; the others still receive msg.
func (e *Engine) Broadcast(instanceID string, msg protocol.Outbound, excludeRoles ...model.Role) error {
	body, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	e.deliver(instanceID, e.registry.Subscribers(instanceID, excludeRoles...), body)
	e.metrics.Broadcast(string(msg.Type))
	return nil
}

func (e *Engine) deliver(instanceID string, targets []Subscription, body []byte) {
	var dead []Subscription
	for _, sub := range targets {
		if err := sub.Conn.Send(body); err != nil {
			level.Debug(e.logger).Log("msg", "drop subscriber", "instance_id", instanceID, "conn_id", sub.Conn.ID(), "err", err)
			dead = append(dead, sub)
		}
	}
	for _, sub := range dead {
		if e.registry.UnregisterBrowser(instanceID, sub.Conn) {
			e.metrics.SubscriberDropped()
		}
		_ = sub.Conn.Close(protocol.CloseInternal, "send failed")
	}
}

// RelayCommand sends cmd to the live connection for instanceID. It returns
// true only when the write succeeded. A failed write drops the instance
// connection. Nothing is retried.
func (e *Engine) RelayCommand(instanceID string, cmd protocol.Command) bool {
	conn, ok := e.registry.Instance(instanceID)
	if !ok {
		return false
	}
	body, err := protocol.Encode(cmd)
	if err != nil {
		level.Warn(e.logger).Log("msg", "encode command", "instance_id", instanceID, "action", cmd.Action, "err", err)
		return false
	}
	if err := conn.Send(body); err != nil {
		level.Warn(e.logger).Log("msg", "command send failed", "instance_id", instanceID, "action", cmd.Action, "err", err)
		e.DisconnectInstance(instanceID, conn)
		_ = conn.Close(protocol.CloseInternal, "send failed")
		return false
	}
	return true
}

// EvictUser closes every subscription userID holds on instanceIDs and
// returns how many were closed.
func (e *Engine) EvictUser(userID string, instanceIDs []string) int {
	removed := e.registry.EvictUser(userID, instanceIDs)
	for _, sub := range removed {
		if err := sub.Conn.Close(protocol.CloseForbidden, "Removed from team"); err != nil {
			level.Debug(e.logger).Log("msg", "close evicted subscriber", "instance_id", sub.InstanceID, "conn_id", sub.Conn.ID(), "err", err)
		}
	}
	e.metrics.Evicted(len(removed))
	return len(removed)
}

func (e *Engine) Snapshot(instanceID string) (json.RawMessage, bool) {
	return e.feed.Snapshot(instanceID)
}

func (e *Engine) LogHistory(instanceID string) []json.RawMessage {
	return e.feed.LogHistory(instanceID)
}

func (e *Engine) send(conn Conn, msg protocol.Outbound) error {
	body, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return conn.Send(body)
}
