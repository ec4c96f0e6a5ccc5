package weave

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// multiAcceptServer is a loopback Weave node that, unlike fakeServer,
// accepts more than one connection over its lifetime and exposes each
// accepted net.Conn on a channel. It's the harness S4 (reconnect +
// rejoin) and S5 (SHUTTING_DOWN push) need: both scenarios require a
// second connection to appear while the first one is still alive.
type multiAcceptServer struct {
	ln       net.Listener
	accepted chan net.Conn

	onJoin  func(conn net.Conn, pid uint16, body []any)
	onQuery func(conn net.Conn, pid uint16)
}

func startMultiAcceptServer(t *testing.T) *multiAcceptServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &multiAcceptServer{ln: ln, accepted: make(chan net.Conn, 8)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.accepted <- conn
			go s.serve(conn)
		}
	}()
	return s
}

func (s *multiAcceptServer) serve(conn net.Conn) {
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if err != nil {
			return
		}
		buf = append(buf, chunk[:n]...)
		for {
			if len(buf) < HeaderSize {
				break
			}
			pkt, err := DecodeHeader(buf[:HeaderSize])
			if err != nil {
				return
			}
			if len(buf) < pkt.Total() {
				break
			}
			payload := append([]byte(nil), buf[HeaderSize:pkt.Total()]...)
			buf = buf[pkt.Total():]
			s.handle(conn, pkt, payload)
		}
	}
}

func (s *multiAcceptServer) handle(conn net.Conn, pkt Packet, payload []byte) {
	switch pkt.Type {
	case ProtoReqPing, ProtoReqAuth:
		wire, _ := EncodePacket(pkt.Pid, ProtoResOK, nil)
		conn.Write(wire)
	case ProtoReqJoin:
		var body []any
		_ = msgpack.Unmarshal(payload, &body)
		if s.onJoin != nil {
			s.onJoin(conn, pkt.Pid, body)
			return
		}
		wire, _ := EncodePacket(pkt.Pid, ProtoResData, body[1:])
		conn.Write(wire)
	case ProtoReqQuery:
		if s.onQuery != nil {
			s.onQuery(conn, pkt.Pid)
			return
		}
		wire, _ := EncodePacket(pkt.Pid, ProtoResData, "ok")
		conn.Write(wire)
	}
}

func (s *multiAcceptServer) addr() string { return s.ln.Addr().String() }
func (s *multiAcceptServer) close()       { s.ln.Close() }

func mustNode(t *testing.T, addr string) Node {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return Node{Host: host, Port: port}
}

// TestS4ReconnectAndRejoin is spec.md §8 scenario S4: with two nodes in
// the pool and one room joined at id 77 in scope "//c", killing the
// active node's TCP connection must cause the client to reconnect to
// the other node, re-authenticate, and send a JOIN whose payload equals
// ["//c", 77].
func TestS4ReconnectAndRejoin(t *testing.T) {
	srv1 := startMultiAcceptServer(t)
	defer srv1.close()
	srv2 := startMultiAcceptServer(t)
	defer srv2.close()

	joins := make(chan []any, 4)
	onJoin := func(conn net.Conn, pid uint16, body []any) {
		joins <- body
		wire, _ := EncodePacket(pid, ProtoResData, body[1:])
		conn.Write(wire)
	}
	srv1.onJoin = onJoin
	srv2.onJoin = onJoin

	c, err := NewClient([]Node{mustNode(t, srv1.addr()), mustNode(t, srv2.addr())}, TokenCredential("t"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	// Whichever of the two fake servers actually received the dial is
	// "active"; the pool's starting index is randomized per spec.md §3.
	var active net.Conn
	var activeIsSrv1 bool
	select {
	case active = <-srv1.accepted:
		activeIsSrv1 = true
	case active = <-srv2.accepted:
		activeIsSrv1 = false
	case <-time.After(time.Second):
		t.Fatal("neither fake server accepted the initial connection")
	}

	rm := c.Room("//c", 77)
	joinCtx, joinCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer joinCancel()
	if err := rm.Join(joinCtx, 0); err != nil {
		t.Fatalf("join: %v", err)
	}

	select {
	case body := <-joins:
		if len(body) != 2 || body[0] != "//c" || toIntOrPanic(body[1]) != 77 {
			t.Fatalf("initial JOIN payload = %v, want [//c 77]", body)
		}
	case <-time.After(time.Second):
		t.Fatal("initial JOIN never reached the active server")
	}

	// Kill the active connection from the server side; the client's
	// read loop sees EOF and must reconnect to the other node.
	active.Close()

	var rejoined net.Conn
	if activeIsSrv1 {
		select {
		case rejoined = <-srv2.accepted:
		case <-time.After(5 * time.Second):
			t.Fatal("client never reconnected to the second node")
		}
	} else {
		select {
		case rejoined = <-srv1.accepted:
		case <-time.After(5 * time.Second):
			t.Fatal("client never reconnected to the first node")
		}
	}
	_ = rejoined

	select {
	case body := <-joins:
		if len(body) != 2 || body[0] != "//c" || toIntOrPanic(body[1]) != 77 {
			t.Fatalf("rejoin payload = %v, want [//c 77]", body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("rejoin never reached the other node after reconnect")
	}

	// The server has only received the rejoin JOIN; the client turns
	// Ready once it has processed the reply, so allow it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for !c.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !c.IsConnected() {
		t.Fatal("client should be Ready again after reconnecting")
	}
}

func toIntOrPanic(v any) int {
	n, ok := toInt(v)
	if !ok {
		panic("not an int")
	}
	return n
}

// TestS5ShuttingDownTriggersReconnectWhileServingPending is spec.md §8
// scenario S5: a NODE_STATUS{status:"SHUTTING_DOWN"} push on a healthy
// connection starts a reconnect while the client keeps answering
// requests already in flight on the old connection.
func TestS5ShuttingDownTriggersReconnectWhileServingPending(t *testing.T) {
	srv := startMultiAcceptServer(t)
	defer srv.close()

	release := make(chan struct{})
	srv.onQuery = func(conn net.Conn, pid uint16) {
		<-release
		wire, _ := EncodePacket(pid, ProtoResData, "still-here")
		conn.Write(wire)
	}

	c, err := NewClient([]Node{mustNode(t, srv.addr())}, TokenCredential("t"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	var conn1 net.Conn
	select {
	case conn1 = <-srv.accepted:
	case <-time.After(time.Second):
		t.Fatal("server never accepted the initial connection")
	}

	queryErrCh := make(chan error, 1)
	queryValCh := make(chan any, 1)
	go func() {
		qctx, qcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer qcancel()
		val, err := c.Query(qctx, "@t", "slow", 5*time.Second, nil)
		queryValCh <- val
		queryErrCh <- err
	}()

	// Give the query time to land on conn1 before the push arrives.
	time.Sleep(100 * time.Millisecond)

	status, _ := EncodePacket(0, ProtoOnNodeStatus, map[string]any{"status": "SHUTTING_DOWN", "id": 1})
	if _, err := conn1.Write(status); err != nil {
		t.Fatalf("push SHUTTING_DOWN: %v", err)
	}

	// The reconnect loop dials the same address again; conn1 stays open
	// and still serving its pending request meanwhile.
	select {
	case <-srv.accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("SHUTTING_DOWN push never triggered a reconnect dial")
	}

	close(release)
	select {
	case err := <-queryErrCh:
		if err != nil {
			t.Fatalf("query on the original connection errored: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending query on the original connection never completed")
	}
	if v := <-queryValCh; v != "still-here" {
		t.Fatalf("val = %v, want still-here", v)
	}
}
