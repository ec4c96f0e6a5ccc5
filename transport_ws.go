package weave

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// DefaultWSMaxMessageSize is the default maximum WebSocket message
// size: 2^24 bytes.
const DefaultWSMaxMessageSize = 1 << 24

// wsTransport is the WebSocket Transport. Each binary
// message carries exactly one packet (header+payload); there is no byte
// buffering or resynchronization to do. A bad message is logged and
// dropped, and the connection stays open.
type wsTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	handler packetHandler
	logger  Logger
	dump    DumpSink
	stats   Stats

	closeOnce sync.Once
	closedCh  chan struct{}
}

func dialWS(ctx context.Context, url string, tlsConfig *tls.Config, maxMessageSize int64, h packetHandler, logger Logger, dump DumpSink, stats Stats) (*wsTransport, error) {
	dialer := websocket.Dialer{
		TLSClientConfig: tlsConfig,
	}
	conn, _, err := dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultWSMaxMessageSize
	}
	conn.SetReadLimit(maxMessageSize)

	t := &wsTransport{
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

func (t *wsTransport) readLoop() {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			t.finish(err)
			return
		}
		if t.stats != nil {
			t.stats.IncrementBytesReceived(int64(len(data)))
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		t.handleMessage(data)
	}
}

func (t *wsTransport) handleMessage(data []byte) {
	pkt, err := DecodeHeader(data)
	if err != nil {
		if t.logger != nil {
			t.logger.Errorf("dropping malformed websocket message: %v", err)
		}
		return
	}
	if len(data) < pkt.Total() {
		if t.logger != nil {
			t.logger.Errorf("dropping websocket message: header declares %d bytes, message has %d", pkt.Total(), len(data))
		}
		return
	}
	payload := data[HeaderSize:pkt.Total()]
	if len(payload) > 0 {
		if _, err := unpackBody(payload); err != nil {
			if t.logger != nil {
				t.logger.Errorf("dropping malformed packet (pid %d type 0x%02x): %v", pkt.Pid, pkt.Type, err)
			}
			if t.dump != nil {
				t.dump.Dump(payload)
			}
			return
		}
	}
	pkt.Payload = payload
	if t.handler.onPacket != nil {
		t.handler.onPacket(pkt)
	}
}

func (t *wsTransport) finish(err error) {
	t.closeOnce.Do(func() {
		close(t.closedCh)
		if t.handler.onLost != nil {
			t.handler.onLost(err)
		}
	})
}

func (t *wsTransport) Write(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *wsTransport) Close() error {
	err := t.conn.Close()
	t.finish(err)
	return err
}

func (t *wsTransport) IsClosing() bool {
	select {
	case <-t.closedCh:
		return true
	default:
		return false
	}
}

func (t *wsTransport) WaitClosed() <-chan struct{} { return t.closedCh }
