package weave

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
)

// tcpTransport is the raw-TCP (optionally TLS) Transport, per spec
// §4.C. It buffers arriving bytes and extracts zero or more complete
// packets on each read: header too short or body incomplete → wait for
// more; a MessagePack decode failure logs, optionally dumps the payload,
// and clears the buffer to resynchronize on the next header boundary.
type tcpTransport struct {
	conn net.Conn

	writeMu sync.Mutex

	buf bytes.Buffer

	handler packetHandler
	logger  Logger
	dump    DumpSink
	stats   Stats

	closeOnce sync.Once
	closedCh  chan struct{}
}

// dialTCP opens a TCP connection to addr, wrapping it in TLS when
// tlsConfig is non-nil. TLS context construction is the caller's
// responsibility, selected via the `ssl` config knob.
func dialTCP(ctx context.Context, addr string, tlsConfig *tls.Config, h packetHandler, logger Logger, dump DumpSink, stats Stats) (*tcpTransport, error) {
	d := &net.Dialer{}
	var conn net.Conn
	var err error
	if tlsConfig != nil {
		dialer := tls.Dialer{NetDialer: d, Config: tlsConfig}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("tcp dial %s: %w", addr, err)
	}

	t := &tcpTransport{
		conn:     conn,
		handler:  h,
		logger:   logger,
		dump:     dump,
		stats:    stats,
		closedCh: make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *tcpTransport) readLoop() {
	chunk := make([]byte, 64*1024)
	for {
		n, err := t.conn.Read(chunk)
		if n > 0 {
			if t.stats != nil {
				t.stats.IncrementBytesReceived(int64(n))
			}
			t.buf.Write(chunk[:n])
			t.drainBuffer()
		}
		if err != nil {
			t.finish(err)
			return
		}
	}
}

// drainBuffer extracts as many complete packets as are currently
// buffered.
func (t *tcpTransport) drainBuffer() {
	for {
		if t.buf.Len() < HeaderSize {
			return
		}
		header := t.buf.Bytes()[:HeaderSize]
		pkt, err := DecodeHeader(header)
		if err != nil {
			// framing error: type/check mismatch. Resynchronize by
			// dropping everything buffered so far.
			if t.logger != nil {
				t.logger.Errorf("framing error, resynchronizing: %v", err)
			}
			t.buf.Reset()
			return
		}
		total := pkt.Total()
		if t.buf.Len() < total {
			return
		}
		raw := t.buf.Next(total)
		// Copy out of t.buf: push events are decoded later on another
		// goroutine, after further reads may have reused the buffer.
		payload := append([]byte(nil), raw[HeaderSize:]...)
		if err := t.handlePayload(&pkt, payload); err != nil {
			if t.logger != nil {
				t.logger.Errorf("dropping malformed packet (pid %d type 0x%02x): %v", pkt.Pid, pkt.Type, err)
			}
			if t.dump != nil {
				t.dump.Dump(payload)
			}
			// Decode failure: resynchronize by discarding the rest of
			// whatever is currently buffered.
			t.buf.Reset()
			return
		}
	}
}

func (t *tcpTransport) handlePayload(pkt *Packet, payload []byte) error {
	if len(payload) > 0 {
		// Validate decodability up front so a bad payload never reaches
		// onPacket half-decoded; the real decode happens again in mux/
		// events to keep Packet.Payload as raw bytes until consumed.
		if _, err := unpackBody(payload); err != nil {
			return err
		}
	}
	pkt.Payload = payload
	if t.handler.onPacket != nil {
		t.handler.onPacket(*pkt)
	}
	return nil
}

func (t *tcpTransport) finish(err error) {
	t.closeOnce.Do(func() {
		close(t.closedCh)
		if t.handler.onLost != nil {
			t.handler.onLost(err)
		}
	})
}

func (t *tcpTransport) Write(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := t.conn.Write(data)
	return err
}

func (t *tcpTransport) Close() error {
	err := t.conn.Close()
	t.finish(err)
	return err
}

func (t *tcpTransport) IsClosing() bool {
	select {
	case <-t.closedCh:
		return true
	default:
		return false
	}
}

func (t *tcpTransport) WaitClosed() <-chan struct{} { return t.closedCh }
