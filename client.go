package weave

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// pushEventQueueSize bounds the backlog of push packets awaiting
// dispatch off the read-pump (see dispatchPushEvents). Sized well
// above any realistic burst of room events in flight during a single
// join's round trip.
const pushEventQueueSize = 1024

// Client is the public façade over the Packet Multiplexer, Connection
// Manager and Room Runtime. One Client serves one logical
// connection to a Weave node pool.
type Client struct {
	cfg  *Config
	mux  *multiplexer
	conn *connManager

	router     *eventRouter
	pushEvents chan Packet
	closeOnce  sync.Once
	doneCh     chan struct{}

	roomsMu sync.Mutex
	rooms   map[int]*Room
}

// NewClient builds a Client bound to the given node pool and
// credential. It does not connect until Connect is called.
func NewClient(nodes []Node, cred Credential, opts ...Option) (*Client, error) {
	pool, err := newNodePool(nodes)
	if err != nil {
		return nil, err
	}
	cfg := applyConfig(opts)

	mux := newMultiplexer(cfg.logger, cfg.stats)
	conn := newConnManager(cfg, mux, pool, cred)

	c := &Client{
		cfg:        cfg,
		mux:        mux,
		conn:       conn,
		rooms:      make(map[int]*Room),
		pushEvents: make(chan Packet, pushEventQueueSize),
		doneCh:     make(chan struct{}),
	}

	conn.onPacket = c.dispatchPacket
	conn.rejoinFn = c.rejoin

	c.router = newEventRouter(cfg.logger, cfg.autoReconnect, conn.triggerReconnect, pushHandlers{
		lookupRoom: c.lookupRoom,
	})

	go c.dispatchPushEvents()

	return c, nil
}

// dispatchPacket is the single onPacket callback wired into every
// transport, invoked synchronously from that transport's read-pump
// goroutine. Responses are completed inline through the multiplexer
// (a non-blocking channel send), but push events are only enqueued
// here, never routed inline: the Event Router's room lookup takes
// roomsMu, and Room.Join/NoJoin hold that same lock across a server
// round trip whose response is delivered by this very read-pump. Routing
// a push event inline could therefore block the read-pump on roomsMu
// until the join it is waiting on times out — starving the connection
// of the response that would have released the lock. Queuing here and
// draining on a dedicated goroutine (dispatchPushEvents) keeps the
// read-pump free to keep delivering responses no matter what the Event
// Router is blocked on.
func (c *Client) dispatchPacket(pkt Packet) {
	if isResponseType(pkt.Type) {
		c.mux.onResponse(pkt)
		return
	}
	select {
	case c.pushEvents <- pkt:
	default:
		c.cfg.logger.Errorf("push event queue full, dropping packet type 0x%02x", pkt.Type)
	}
}

// dispatchPushEvents drains queued push packets in arrival order on its
// own goroutine, routing each through the Event Router. It runs for the
// lifetime of the Client, independent of any single transport, and
// exits once Close is called.
func (c *Client) dispatchPushEvents() {
	for {
		select {
		case pkt := <-c.pushEvents:
			c.router.route(pkt)
		case <-c.doneCh:
			return
		}
	}
}

// Connect performs connect(): pick a starting node and run
// the connect/auth handshake once, synchronously.
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.connect(ctx)
}

// Close shuts the client down: the current transport is closed, every
// pending request is cancelled, and the push-event dispatch goroutine
// is stopped.
func (c *Client) Close() error {
	err := c.conn.close()
	c.closeOnce.Do(func() { close(c.doneCh) })
	return err
}

// IsConnected reports whether the connection manager currently
// considers the client Ready.
func (c *Client) IsConnected() bool {
	return c.conn.isReady()
}

// Stats returns the diagnostics counters wired into this client.
func (c *Client) Stats() Stats { return c.cfg.stats }

func (c *Client) lookupRoom(id int) (*Room, bool) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	rm, ok := c.rooms[id]
	return rm, ok
}

func (c *Client) registerRoom(id int, rm *Room) {
	if existing, ok := c.rooms[id]; ok && existing != rm {
		c.cfg.logger.Warnf("replacing existing room registration for id %d", id)
	}
	c.rooms[id] = rm
}

func (c *Client) unregisterRoom(id int) {
	c.roomsMu.Lock()
	delete(c.rooms, id)
	c.roomsMu.Unlock()
}

// Query sends REQ_QUERY with the given code and optional vars (spec
// §4.H, §6).
func (c *Client) Query(ctx context.Context, scope, code string, timeout time.Duration, vars map[string]any) (any, error) {
	body := []any{scope, code}
	if len(vars) > 0 {
		body = append(body, vars)
	}
	r, err := c.conn.send(ctx, ProtoReqQuery, body, timeout)
	if err != nil {
		return nil, err
	}
	return r.Value, r.Err
}

// Run sends REQ_RUN invoking procedure with either positional args or
// keyword args, never both.
func (c *Client) Run(ctx context.Context, scope, procedure string, timeout time.Duration, args []any, kwargs map[string]any) (any, error) {
	if len(args) > 0 && len(kwargs) > 0 {
		return nil, ErrArgsKwargsExclusive
	}
	body := []any{scope, procedure}
	switch {
	case len(kwargs) > 0:
		body = append(body, kwargs)
	default:
		body = append(body, args)
	}
	r, err := c.conn.send(ctx, ProtoReqRun, body, timeout)
	if err != nil {
		return nil, err
	}
	return r.Value, r.Err
}

// Room constructs a new, unbound Room bound to this client.
func (c *Client) Room(scope string, idOrCode any) *Room {
	rm := NewRoom(scope, idOrCode)
	rm.client = c
	return rm
}

func (c *Client) sendJoin(ctx context.Context, scope string, ids []int, timeout time.Duration) ([]any, error) {
	return c.sendIDRequest(ctx, ProtoReqJoin, scope, ids, timeout)
}

func (c *Client) sendLeave(ctx context.Context, scope string, ids []int, timeout time.Duration) ([]any, error) {
	return c.sendIDRequest(ctx, ProtoReqLeave, scope, ids, timeout)
}

func (c *Client) sendIDRequest(ctx context.Context, tp Proto, scope string, ids []int, timeout time.Duration) ([]any, error) {
	body := make([]any, 0, len(ids)+1)
	body = append(body, scope)
	for _, id := range ids {
		body = append(body, id)
	}
	r, err := c.conn.send(ctx, tp, body, timeout)
	if err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	list, ok := r.Value.([]any)
	if !ok {
		return nil, fmt.Errorf("weave: unexpected %s response shape %T", protoName(tp), r.Value)
	}
	return list, nil
}

func (c *Client) sendEmit(ctx context.Context, scope string, roomID int, event string, args []any, timeout time.Duration) error {
	body := []any{scope, roomID, event}
	body = append(body, args...)
	r, err := c.conn.send(ctx, ProtoReqEmit, body, timeout)
	if err != nil {
		return err
	}
	return r.Err
}

// rejoin groups the current room registry by scope and re-issues one
// JOIN request per scope. It is called by the
// connection manager after a successful reconnect, against the newly
// established (not-yet-current) transport t.
func (c *Client) rejoin(ctx context.Context, t Transport, timeout time.Duration) error {
	c.roomsMu.Lock()
	byScope := make(map[string][]int)
	byScopeRooms := make(map[string][]*Room)
	for id, rm := range c.rooms {
		byScope[rm.scope] = append(byScope[rm.scope], id)
		byScopeRooms[rm.scope] = append(byScopeRooms[rm.scope], rm)
	}
	c.roomsMu.Unlock()

	var firstErr error
	for scope, ids := range byScope {
		body := make([]any, 0, len(ids)+1)
		body = append(body, scope)
		for _, id := range ids {
			body = append(body, id)
		}
		ch, err := c.mux.send(ProtoReqJoin, body, timeout, t)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		r := <-ch
		if r.Err != nil {
			if firstErr == nil {
				firstErr = r.Err
			}
			continue
		}
		list, ok := r.Value.([]any)
		if !ok {
			continue
		}
		for i, v := range list {
			if v == nil && i < len(byScopeRooms[scope]) {
				// Open question (b), resolved per SPEC_FULL.md §9: keep
				// the room registered, log, surface no error.
				c.cfg.logger.Warnf("rejoin: room %d in scope %s no longer exists on the server", ids[i], scope)
			}
		}
	}
	return firstErr
}

func protoName(tp Proto) string {
	switch tp {
	case ProtoReqJoin:
		return "JOIN"
	case ProtoReqLeave:
		return "LEAVE"
	default:
		return fmt.Sprintf("0x%02x", uint8(tp))
	}
}
