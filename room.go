package weave

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// roomState is a Room's lifecycle position: unbound →
// resolving → joined → active → left | deleted.
type roomState int

const (
	roomUnbound roomState = iota
	roomResolving
	roomJoined
	roomActive
	roomLeft
	roomDeleted
)

// Room is a subscription to a server-side room, identified by an
// integer id (once resolved) or a string literal name / script that
// yields one. Embedding RoomHandlers lets a caller register callbacks
// declaratively instead of via reflection.
//
// Room holds its owning Client by a plain pointer. The reference
// client's source ecosystem needs a weak back-reference to avoid an
// ownership cycle; Go's garbage collector has no such hazard, so this
// is a deliberate simplification (see DESIGN.md).
type Room struct {
	RoomHandlers

	client   *Client
	scope    string
	idOrCode any

	mu    sync.Mutex
	state roomState
	id    int

	firstJoin chan struct{}

	// events serializes ON_ROOM_* dispatch onto one background
	// goroutine per room (spec §4.F: on_join "a new task", other
	// handlers "in the background"), decoupled from the transport's
	// read loop. Running handlers inline on that loop would deadlock
	// the moment a handler called back into the client (e.g. Query)
	// while waiting for the response the same loop must deliver.
	eventsMu     sync.Mutex
	eventsClosed bool
	events       chan func()
}

// NewRoom constructs an unbound room. idOrCode is either an int room
// id, or a string: a literal room name or a server-side expression that
// evaluates to an id.
func NewRoom(scope string, idOrCode any) *Room {
	r := &Room{
		scope:    scope,
		idOrCode: idOrCode,
		state:    roomUnbound,
		events:   make(chan func(), 128),
	}
	go r.dispatchLoop()
	return r
}

// dispatchLoop drains queued event callbacks in the order they were
// enqueued, giving single-writer ordering per room. It exits once
// events is closed (handleLeave/handleDelete, the last events a room
// ever receives).
func (r *Room) dispatchLoop() {
	for fn := range r.events {
		r.runSafely(fn)
	}
}

func (r *Room) runSafely(fn func()) {
	defer func() {
		if rec := recover(); rec != nil && r.client != nil {
			r.client.cfg.logger.Errorf("room %d: event handler panicked: %v", r.ID(), rec)
		}
	}()
	fn()
}

// enqueue schedules fn to run on this room's dispatch goroutine. It is
// a no-op once the room has been retired (left/deleted), since a
// lookup racing retire() may still hold a reference to r.
func (r *Room) enqueue(fn func()) {
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()
	if r.eventsClosed {
		return
	}
	r.events <- fn
}

// retire closes the dispatch queue, ending this room's goroutine. Only
// called from within that same goroutine (the tail of handleLeave/
// handleDelete), so the pending close below never races a concurrent
// drain of r.events.
func (r *Room) retire() {
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()
	r.eventsClosed = true
	close(r.events)
}

// ID returns the resolved room id, or 0 if the room has not resolved
// yet.
func (r *Room) ID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

func (r *Room) setState(s roomState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// resolve turns idOrCode into a concrete integer id:
// a literal int is used as-is; a string is executed server-side as a
// query expression (covering both "a literal room name" via
// `room("name").id()` and an arbitrary id-returning script).
func (r *Room) resolve(ctx context.Context, timeout time.Duration) (int, error) {
	switch v := r.idOrCode.(type) {
	case int:
		return v, nil
	case string:
		code := v
		if IsValidName(v) {
			code = fmt.Sprintf("room(%q).id();", v)
		}
		val, err := r.client.Query(ctx, r.scope, code, timeout, nil)
		if err != nil {
			return 0, err
		}
		id, ok := toInt(val)
		if !ok {
			return 0, fmt.Errorf("weave: room code %q did not resolve to an integer id", v)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("weave: unsupported room identifier type %T", v)
	}
}

// Join resolves the room's id, sends JOIN, and registers the room in
// the client's registry under the client-wide rooms lock. If wait > 0
// it then waits up to wait for the first ON_ROOM_JOIN push to be
// handled before returning.
func (r *Room) Join(ctx context.Context, wait time.Duration) error {
	r.client.roomsMu.Lock()

	r.setState(roomResolving)
	id, err := r.resolve(ctx, r.client.cfg.authTimeout)
	if err != nil {
		r.client.roomsMu.Unlock()
		return err
	}

	ids, err := r.client.sendJoin(ctx, r.scope, []int{id}, r.client.cfg.authTimeout)
	if err != nil {
		r.client.roomsMu.Unlock()
		return err
	}
	if len(ids) == 0 || ids[0] == nil {
		r.client.roomsMu.Unlock()
		return ErrRoomNotFound
	}

	r.mu.Lock()
	r.id = id
	r.state = roomJoined
	var gate chan struct{}
	if wait > 0 {
		gate = make(chan struct{})
		r.firstJoin = gate
	}
	r.mu.Unlock()

	r.client.registerRoom(id, r)
	if r.onInit != nil {
		r.onInit(r)
	}
	r.client.roomsMu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-time.After(wait):
		return fmt.Errorf("weave: room %d: timed out waiting for first join event", id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoJoin resolves the room's id without subscribing to it, for
// emit-only use.
func (r *Room) NoJoin(ctx context.Context) error {
	r.client.roomsMu.Lock()
	defer r.client.roomsMu.Unlock()

	r.setState(roomResolving)
	id, err := r.resolve(ctx, r.client.cfg.authTimeout)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.id = id
	r.state = roomJoined
	r.mu.Unlock()
	return nil
}

// Leave sends LEAVE for the room; it fails if the room id was never
// resolved.
func (r *Room) Leave(ctx context.Context) error {
	id := r.ID()
	if id == 0 {
		return ErrRoomNotJoined
	}
	_, err := r.client.sendLeave(ctx, r.scope, []int{id}, r.client.cfg.authTimeout)
	return err
}

// Emit sends EMIT for the room with the given event name and
// arguments.
func (r *Room) Emit(ctx context.Context, event string, args ...any) error {
	id := r.ID()
	if id == 0 {
		return ErrRoomNotJoined
	}
	return r.client.sendEmit(ctx, r.scope, id, event, args, r.client.cfg.authTimeout)
}

// handleJoin is invoked by the Event Router on ON_ROOM_JOIN: it runs
// OnJoin, then, only on the first invocation, closes the first-join
// gate so a pending Join() call returns. The gate is released even if
// OnJoin panics.
func (r *Room) handleJoin() {
	r.mu.Lock()
	r.state = roomActive
	gate := r.firstJoin
	r.firstJoin = nil
	r.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			r.client.cfg.logger.Errorf("room %d: on_join handler panicked: %v", r.ID(), rec)
		}
		if gate != nil {
			close(gate)
		}
	}()
	if r.onJoin != nil {
		r.onJoin(r)
	}
}

// handleLeave is invoked by the Event Router on ON_ROOM_LEAVE: the
// room is removed from the registry before OnLeave runs. No further
// pushes reach this room afterward, so its dispatch goroutine is
// retired.
func (r *Room) handleLeave() {
	r.client.unregisterRoom(r.ID())
	r.setState(roomLeft)
	if r.onLeave != nil {
		r.onLeave(r)
	}
	r.retire()
}

// handleDelete is invoked by the Event Router on ON_ROOM_DELETE: the
// room is removed from the registry before OnDelete runs. No further
// pushes reach this room afterward, so its dispatch goroutine is
// retired.
func (r *Room) handleDelete() {
	r.client.unregisterRoom(r.ID())
	r.setState(roomDeleted)
	if r.onDelete != nil {
		r.onDelete(r)
	}
	r.retire()
}

// handleEmit is invoked by the Event Router on ON_ROOM_EMIT: dispatch
// to the named handler, falling back to OnEmit.
func (r *Room) handleEmit(event string, args []any) {
	r.RoomHandlers.dispatch(r, event, args)
}
