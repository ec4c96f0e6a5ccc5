package weave

import (
	"sync"
	"testing"
	"time"
)

func newTestClient() *Client {
	return &Client{
		cfg:   defaultConfig(),
		rooms: make(map[int]*Room),
	}
}

func TestRoomOnInitFiresOnce(t *testing.T) {
	c := newTestClient()
	rm := c.Room("//stuff", 7)

	inits := 0
	rm.OnInit(func(r *Room) { inits++ })

	rm.mu.Lock()
	rm.id = 7
	rm.state = roomJoined
	rm.mu.Unlock()
	c.registerRoom(7, rm)
	if rm.onInit != nil {
		rm.onInit(rm)
	}

	if inits != 1 {
		t.Fatalf("on_init fired %d times, want 1", inits)
	}
}

func TestRoomEmitAfterInit(t *testing.T) {
	c := newTestClient()
	rm := c.Room("//stuff", 7)

	var order []string
	rm.OnInit(func(r *Room) { order = append(order, "init") })
	rm.On("news", func(r *Room, args []any) { order = append(order, "emit") })

	rm.mu.Lock()
	rm.id = 7
	rm.mu.Unlock()
	c.registerRoom(7, rm)
	rm.onInit(rm)
	rm.handleEmit("news", []any{"hi"})

	if len(order) != 2 || order[0] != "init" || order[1] != "emit" {
		t.Fatalf("order = %v, want [init emit]", order)
	}
}

func TestRoomLeaveRemovesFromRegistryBeforeCallback(t *testing.T) {
	c := newTestClient()
	rm := c.Room("//stuff", 7)

	rm.mu.Lock()
	rm.id = 7
	rm.mu.Unlock()
	c.registerRoom(7, rm)

	var registeredDuringCallback bool
	rm.OnLeave(func(r *Room) {
		_, registeredDuringCallback = c.lookupRoom(7)
	})

	rm.handleLeave()

	if registeredDuringCallback {
		t.Fatal("room was still registered when on_leave ran")
	}
	if rm.state != roomLeft {
		t.Fatalf("state = %v, want roomLeft", rm.state)
	}
}

func TestRoomDeleteRemovesFromRegistryBeforeCallback(t *testing.T) {
	c := newTestClient()
	rm := c.Room("//stuff", 7)

	rm.mu.Lock()
	rm.id = 7
	rm.mu.Unlock()
	c.registerRoom(7, rm)

	var registeredDuringCallback bool
	rm.OnDelete(func(r *Room) {
		_, registeredDuringCallback = c.lookupRoom(7)
	})

	rm.handleDelete()

	if registeredDuringCallback {
		t.Fatal("room was still registered when on_delete ran")
	}
	if rm.state != roomDeleted {
		t.Fatalf("state = %v, want roomDeleted", rm.state)
	}
}

func TestRoomHandleJoinReleasesFirstJoinGateEvenIfHandlerPanics(t *testing.T) {
	c := newTestClient()
	rm := c.Room("//stuff", 7)
	rm.mu.Lock()
	rm.id = 7
	rm.firstJoin = make(chan struct{})
	rm.mu.Unlock()

	rm.OnJoin(func(r *Room) { panic("boom") })

	gate := rm.firstJoin
	done := make(chan struct{})
	go func() {
		defer func() { recover() }()
		rm.handleJoin()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
	}

	select {
	case <-gate:
	case <-time.After(time.Second):
		t.Fatal("first-join gate was not released")
	}
}

// TestRoomEnqueueOrdersEventsAndDoesNotBlockCaller verifies that
// enqueue hands work to the room's own dispatch goroutine (single-
// writer ordering per room) without blocking the caller, so a slow
// handler never stalls a transport's read loop.
func TestRoomEnqueueOrdersEventsAndDoesNotBlockCaller(t *testing.T) {
	c := newTestClient()
	rm := c.Room("//stuff", 7)
	rm.mu.Lock()
	rm.id = 7
	rm.mu.Unlock()
	c.registerRoom(7, rm)

	var mu sync.Mutex
	var order []int
	release := make(chan struct{})

	rm.enqueue(func() {
		<-release // first event blocks until released
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	})

	callerDone := make(chan struct{})
	go func() {
		rm.enqueue(func() {
			mu.Lock()
			order = append(order, 2)
			mu.Unlock()
		})
		close(callerDone)
	}()

	select {
	case <-callerDone:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a slow in-flight handler")
	}

	close(release)

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for both queued events to run")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v, want [1 2]", order)
	}
}
