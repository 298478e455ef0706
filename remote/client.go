// Package remote is a client engine for a stateful, message-oriented
// remote-control protocol carried over a persistent websocket. It
// multiplexes any number of concurrent requests over one connection,
// correlates out-of-order replies to their callers and fans server
// pushed events out to independent subscribers.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/kleeedolinux/remote.go/debug"
	"github.com/kleeedolinux/remote.go/remote/protocol"
	"github.com/kleeedolinux/remote.go/remote/transport"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	// StateIdentifying means Identify was sent and the client waits for
	// the remote's acknowledgement.
	StateIdentifying
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdentifying:
		return "identifying"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// session bundles everything that lives exactly as long as one
// established connection. A fresh one is built per connect attempt so a
// torn-down session can never leak state into the next.
type session struct {
	conn    transport.Transport
	pending *pendingTable
	events  *broadcaster
	acks    *ackQueue
	once    sync.Once
}

// Client is one connection to the remote. All methods are safe for
// concurrent use; a single dispatch goroutine owns the read side of the
// socket while writes are serialized through the client.
type Client struct {
	cfg Config
	log zerolog.Logger

	newTransport func(cfg Config) transport.Transport

	state      atomic.Int32
	subs       atomic.Uint32
	negotiated atomic.Int32
	nextID     atomic.Uint64

	mu   sync.Mutex
	sess *session

	writeMu sync.Mutex
}

type Option func(*Client)

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithTransport replaces the default websocket transport, mainly for
// wiring the client to an in-process endpoint in tests.
func WithTransport(t transport.Transport) Option {
	return func(c *Client) {
		c.newTransport = func(Config) transport.Transport { return t }
	}
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.EventBacklog <= 0 {
		cfg.EventBacklog = defaultEventBacklog
	}

	c := &Client{
		cfg: cfg,
		log: debug.Logger(),
	}
	c.subs.Store(uint32(cfg.Subscriptions))
	c.newTransport = func(cfg Config) transport.Transport {
		return transport.NewWebSocket(cfg.url())
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) State() State {
	return State(c.state.Load())
}

// Subscriptions returns the currently negotiated event bitmask.
func (c *Client) Subscriptions() EventSubscription {
	return EventSubscription(c.subs.Load())
}

// NegotiatedVersion returns the protocol version agreed during the
// handshake, or zero before the first successful connect.
func (c *Client) NegotiatedVersion() int {
	return int(c.negotiated.Load())
}

// Connect dials the remote and drives the handshake. On success the
// client is Ready and the dispatch loop is running. The whole sequence
// is bounded by ctx and the configured connect timeout. There is no
// automatic reconnection; after a disconnect, Connect may be called
// again for a fresh session.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		return ErrAlreadyConnected
	}

	c.state.Store(int32(StateConnecting))

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn := c.newTransport(c.cfg)
	if err := conn.Connect(ctx); err != nil {
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("dial remote: %w", err)
	}

	// The transport blocks in Receive without a deadline; closing it is
	// what unblocks the handshake when the budget runs out.
	hsDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-hsDone:
		}
	}()

	identified, err := c.runHandshake(conn)
	close(hsDone)
	if err == nil && ctx.Err() != nil {
		// The watchdog may have closed the socket right after the final
		// handshake read; a session on a dead socket must not go Ready.
		err = ctx.Err()
	}
	if err != nil {
		conn.Close()
		c.state.Store(int32(StateDisconnected))
		if ctx.Err() != nil {
			return &HandshakeError{Stage: "timeout", Err: ctx.Err()}
		}
		return err
	}

	sess := &session{
		conn:    conn,
		pending: newPendingTable(),
		events:  newBroadcaster(c.cfg.EventBacklog),
		acks:    newAckQueue(),
	}
	c.sess = sess
	c.negotiated.Store(int32(identified.NegotiatedRPCVersion))
	c.state.Store(int32(StateReady))

	c.log.Debug().
		Int("rpcVersion", identified.NegotiatedRPCVersion).
		Msg("connection ready")

	go c.dispatch(sess)

	return nil
}

// Disconnect tears the connection down: every pending request resolves
// with ErrDisconnected and every subscriber gets end-of-stream.
// Idempotent and safe to call in any state.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess == nil {
		return nil
	}

	c.teardown(sess, ErrDisconnected)
	return nil
}

// Request sends a command to the remote and blocks the calling
// goroutine until the matching response arrives, ctx is done, or the
// connection drops. data may be nil for commands without a payload. A
// non-ok status from the remote surfaces as a *RequestError.
func (c *Client) Request(ctx context.Context, requestType string, data any) (json.RawMessage, error) {
	sess := c.session()
	if sess == nil || c.State() != StateReady {
		return nil, ErrNotConnected
	}

	var payload json.RawMessage
	if data != nil {
		p, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", requestType, err)
		}
		payload = p
	}

	id := c.nextID.Add(1)
	slot, err := sess.pending.register(id)
	if err != nil {
		return nil, err
	}

	raw, err := protocol.Encode(protocol.OpRequest, protocol.Request{
		ID:   strconv.FormatUint(id, 10),
		Type: requestType,
		Data: payload,
	})
	if err != nil {
		sess.pending.cancel(id)
		return nil, err
	}

	c.log.Debug().Uint64("id", id).Str("type", requestType).Msg("sending request")

	if err := c.send(sess, raw); err != nil {
		sess.pending.cancel(id)
		return nil, err
	}

	select {
	case res := <-slot:
		if res.err != nil {
			return nil, res.err
		}
		if !res.status.Result {
			return nil, &RequestError{Code: res.status.Code, Comment: res.status.Comment}
		}
		return res.data, nil
	case <-ctx.Done():
		sess.pending.cancel(id)
		return nil, ctx.Err()
	}
}

// Subscribe attaches a new event consumer. It only receives events
// published after it attached; there is no replay.
func (c *Client) Subscribe() (*Subscription, error) {
	sess := c.session()
	if sess == nil {
		return nil, ErrNotConnected
	}
	return sess.events.subscribe()
}

// SetSubscriptions asks the remote to change the event bitmask so
// filtering happens at the source, and waits for the acknowledgement
// before applying the mask locally.
func (c *Client) SetSubscriptions(ctx context.Context, mask EventSubscription) error {
	sess := c.session()
	if sess == nil || c.State() != StateReady {
		return ErrNotConnected
	}

	ack, err := sess.acks.add()
	if err != nil {
		return ErrNotConnected
	}

	raw, err := protocol.Encode(protocol.OpReidentify, protocol.Reidentify{
		EventSubscriptions: uint32(mask),
	})
	if err != nil {
		sess.acks.remove(ack)
		return err
	}
	if err := c.send(sess, raw); err != nil {
		sess.acks.remove(ack)
		return err
	}

	select {
	case _, ok := <-ack:
		if !ok {
			return ErrDisconnected
		}
		c.subs.Store(uint32(mask))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) session() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// send is the single serialized write path; concurrent callers never
// interleave partial frames.
func (c *Client) send(sess *session, raw []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return sess.conn.Send(raw)
}

// dispatch is the sole reader of the socket for the session's lifetime.
// It routes replies to the pending table, events to the broadcaster and
// identify acks to their waiters. A single malformed frame is dropped,
// not fatal; only socket-level failure ends the loop.
func (c *Client) dispatch(sess *session) {
	for {
		raw, err := sess.conn.Receive()
		if err != nil {
			c.log.Debug().Err(err).Msg("read loop ending")
			c.teardown(sess, ErrDisconnected)
			return
		}

		frame, err := protocol.Decode(raw)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		switch frame.Op {
		case protocol.OpRequestResponse:
			c.handleResponse(sess, frame.Data)
		case protocol.OpEvent:
			c.handleEvent(sess, frame.Data)
		case protocol.OpIdentified:
			var identified protocol.Identified
			if err := json.Unmarshal(frame.Data, &identified); err != nil {
				c.log.Warn().Err(err).Msg("dropping malformed identify ack")
				continue
			}
			sess.acks.notify(identified)
		case protocol.OpServerStopping:
			c.log.Debug().Msg("remote is stopping")
			c.teardown(sess, ErrClosing)
			return
		default:
			c.log.Warn().Int("op", int(frame.Op)).Msg("dropping frame with unexpected op")
		}
	}
}

func (c *Client) handleResponse(sess *session, data json.RawMessage) {
	var resp protocol.RequestResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed response")
		return
	}

	id, err := strconv.ParseUint(resp.ID, 10, 64)
	if err != nil {
		c.log.Warn().Str("requestId", resp.ID).Msg("response with unparsable request id")
		return
	}

	if !sess.pending.resolve(id, result{status: resp.Status, data: resp.Data}) {
		// Caller cancelled before the reply arrived.
		c.log.Debug().Uint64("id", id).Msg("response for unknown request id")
	}
}

func (c *Client) handleEvent(sess *session, data json.RawMessage) {
	var ev protocol.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed event")
		return
	}

	// The remote filters at the source via Reidentify, but a mask
	// change is applied here before its ack lands.
	if ev.Intent != 0 && ev.Intent&c.subs.Load() == 0 {
		c.log.Debug().Str("type", ev.Type).Msg("event outside subscription mask")
		return
	}

	sess.events.publish(Event{
		Type:   ev.Type,
		Intent: EventSubscription(ev.Intent),
		Data:   ev.Data,
	})
}

// teardown runs the shared shutdown path exactly once per session,
// whether triggered by socket failure, the remote stopping or an
// explicit Disconnect. cause is what every pending caller receives.
func (c *Client) teardown(sess *session, cause error) {
	sess.once.Do(func() {
		c.state.Store(int32(StateDisconnected))
		sess.conn.Close()
		sess.pending.failAll(cause)
		sess.events.closeAll()
		sess.acks.closeAll()

		c.mu.Lock()
		if c.sess == sess {
			c.sess = nil
		}
		c.mu.Unlock()

		c.log.Debug().Msg("connection torn down")
	})
}

// ackQueue parks SetSubscriptions callers until the dispatch loop sees
// the matching identify ack. The remote answers re-identifies in order,
// so a FIFO queue suffices.
type ackQueue struct {
	mu      sync.Mutex
	waiters []chan protocol.Identified
	closed  bool
}

func newAckQueue() *ackQueue {
	return &ackQueue{}
}

func (q *ackQueue) add() (<-chan protocol.Identified, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrNotConnected
	}

	ch := make(chan protocol.Identified, 1)
	q.waiters = append(q.waiters, ch)
	return ch, nil
}

// remove withdraws a waiter whose frame never made it onto the wire, so
// a later caller's ack is not routed to the abandoned slot.
func (q *ackQueue) remove(ch <-chan protocol.Identified) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, w := range q.waiters {
		if w == ch {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}

func (q *ackQueue) notify(identified protocol.Identified) {
	q.mu.Lock()
	var ch chan protocol.Identified
	if len(q.waiters) > 0 {
		ch = q.waiters[0]
		q.waiters = q.waiters[1:]
	}
	q.mu.Unlock()

	if ch != nil {
		ch <- identified
	}
}

func (q *ackQueue) closeAll() {
	q.mu.Lock()
	waiters := q.waiters
	q.waiters = nil
	q.closed = true
	q.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}
