package weave

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingTransport captures every write made through it; it never
// actually talks to a network.
type recordingTransport struct {
	mu      sync.Mutex
	written [][]byte
	closed  chan struct{}
	failNext bool
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{closed: make(chan struct{})}
}

func (t *recordingTransport) Write(data []byte) error {
	if t.failNext {
		return errWriteFailed
	}
	t.mu.Lock()
	t.written = append(t.written, data)
	t.mu.Unlock()
	return nil
}

func (t *recordingTransport) Close() error {
	select {
	case <-t.closed:
	default:
		close(t.closed)
	}
	return nil
}

func (t *recordingTransport) IsClosing() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *recordingTransport) WaitClosed() <-chan struct{} { return t.closed }

var errWriteFailed = &ProtocolError{Code: codeInternalError, Msg: "write failed"}

func TestMultiplexerSendAndCompleteData(t *testing.T) {
	m := newMultiplexer(nopLogger{}, NewDefaultStats())
	tr := newRecordingTransport()

	ch, err := m.send(ProtoReqQuery, []any{"@t", "noop"}, 0, tr)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	pkt, err := DecodeHeader(tr.written[0][:HeaderSize])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	body, err := packBody("hello")
	if err != nil {
		t.Fatalf("packBody: %v", err)
	}
	pkt.Type = ProtoResData
	pkt.Payload = body

	m.onResponse(pkt)

	select {
	case r := <-ch:
		if r.Err != nil {
			t.Fatalf("unexpected error: %v", r.Err)
		}
		if r.Value != "hello" {
			t.Errorf("value = %v, want hello", r.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestMultiplexerTimeout(t *testing.T) {
	m := newMultiplexer(nopLogger{}, NewDefaultStats())
	tr := newRecordingTransport()

	ch, err := m.send(ProtoReqQuery, nil, 10*time.Millisecond, tr)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case r := <-ch:
		if r.Err == nil {
			t.Fatal("expected a timeout error")
		}
		var timeoutErr *RequestTimeoutError
		if !errors.As(r.Err, &timeoutErr) {
			t.Errorf("error = %v, want *RequestTimeoutError", r.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the timeout to fire")
	}
}

func TestMultiplexerCancelAll(t *testing.T) {
	m := newMultiplexer(nopLogger{}, NewDefaultStats())
	tr := newRecordingTransport()

	ch1, _ := m.send(ProtoReqQuery, nil, 0, tr)
	ch2, _ := m.send(ProtoReqQuery, nil, 0, tr)

	m.cancelAll()

	for _, ch := range []<-chan result{ch1, ch2} {
		select {
		case r := <-ch:
			if r.Err != ErrConnectionLost {
				t.Errorf("err = %v, want ErrConnectionLost", r.Err)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for cancellation")
		}
	}
}

func TestMultiplexerUnknownResponseIsDropped(t *testing.T) {
	m := newMultiplexer(nopLogger{}, NewDefaultStats())
	// No slot registered for pid 99; onResponse must simply log and
	// return rather than panic.
	m.onResponse(Packet{Pid: 99, Type: ProtoResOK})
}
