package weave

import (
	"sync"
	"time"
)

// result is the value delivered on a pending request's channel: either
// a decoded value or a typed error, never both.
type result struct {
	Value any
	Err   error
}

// pendingReq is a request slot: a one-shot channel standing
// in for a future/completion handle, plus an optional timeout timer.
type pendingReq struct {
	ch    chan result
	timer *time.Timer
}

func (p *pendingReq) complete(r result) {
	p.ch <- r
}

// multiplexer allocates pids, tracks pending request slots, matches
// responses to them, and enforces per-request timeouts. One
// multiplexer instance is shared across a Client's entire lifetime,
// independent of any single transport. Its pending-slot map persists
// (modulo cancellation) across reconnects.
type multiplexer struct {
	mu      sync.Mutex
	pid     uint16
	pending map[uint16]*pendingReq

	logger Logger
	stats  Stats
}

func newMultiplexer(logger Logger, stats Stats) *multiplexer {
	return &multiplexer{
		pending: make(map[uint16]*pendingReq),
		logger:  logger,
		stats:   stats,
	}
}

// send allocates the next pid, encodes the packet, writes it to t, and
// registers a pending slot. It returns a channel that receives exactly
// one result. timeout of zero means no timeout.
func (m *multiplexer) send(tp Proto, data any, timeout time.Duration, t Transport) (<-chan result, error) {
	m.mu.Lock()
	pid := m.pid + 1
	m.pid = pid
	if _, exists := m.pending[pid]; exists {
		m.mu.Unlock()
		return nil, ErrPidExhausted
	}

	wire, err := EncodePacket(pid, tp, data)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	req := &pendingReq{ch: make(chan result, 1)}
	m.pending[pid] = req
	m.mu.Unlock()

	if timeout > 0 {
		req.timer = time.AfterFunc(timeout, func() { m.onTimeout(pid) })
	}

	if err := t.Write(wire); err != nil {
		m.mu.Lock()
		delete(m.pending, pid)
		m.mu.Unlock()
		if req.timer != nil {
			req.timer.Stop()
		}
		return nil, err
	}

	if m.stats != nil {
		m.stats.IncrementRequestsSent()
		m.stats.IncrementBytesSent(int64(len(wire)))
	}
	return req.ch, nil
}

func (m *multiplexer) onTimeout(pid uint16) {
	m.mu.Lock()
	req, ok := m.pending[pid]
	if ok {
		delete(m.pending, pid)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if m.stats != nil {
		m.stats.IncrementTimeouts()
	}
	req.complete(result{Err: newRequestTimeoutError(pid)})
}

// onResponse looks up the slot for pkt.Pid and completes it. If no slot
// is found (already timed out, or a stray/duplicate response), it logs
// and drops the packet.
func (m *multiplexer) onResponse(pkt Packet) {
	m.mu.Lock()
	req, ok := m.pending[pkt.Pid]
	if ok {
		delete(m.pending, pkt.Pid)
	}
	m.mu.Unlock()
	if !ok {
		if m.logger != nil {
			m.logger.Warnf("received response for unknown packet id %d (type 0x%02x)", pkt.Pid, pkt.Type)
		}
		return
	}
	if req.timer != nil {
		req.timer.Stop()
	}
	if m.stats != nil {
		m.stats.IncrementResponsesReceived()
	}
	req.complete(decodeResponse(pkt))
}

// decodeResponse turns a response packet into a result:
// PING/OK complete with no value, DATA with the decoded payload, ERROR
// with a typed error selected by error_code.
func decodeResponse(pkt Packet) result {
	switch pkt.Type {
	case ProtoResPing, ProtoResOK:
		return result{}
	case ProtoResData:
		v, err := unpackBody(pkt.Payload)
		if err != nil {
			return result{Err: err}
		}
		return result{Value: v}
	case ProtoResError:
		m, err := unpackBodyMap(pkt.Payload)
		if err != nil {
			return result{Err: err}
		}
		return result{Err: errorFromMap(m)}
	default:
		return result{Err: &InternalError{&ProtocolError{
			Code: codeInternalError,
			Msg:  "unknown response packet type received",
		}}}
	}
}

// cancelAll empties the pending-slot map and errors out every
// outstanding future, invoked by a transport's disconnect path (spec
// §4.B "cancel_all").
func (m *multiplexer) cancelAll() {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[uint16]*pendingReq)
	m.mu.Unlock()

	if len(pending) > 0 && m.logger != nil {
		m.logger.Errorf("cancelling %d pending request(s) due to a lost connection", len(pending))
	}
	for _, req := range pending {
		if req.timer != nil {
			req.timer.Stop()
		}
		req.complete(result{Err: ErrConnectionLost})
	}
}
