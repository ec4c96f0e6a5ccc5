package weave

import "sync/atomic"

// Stats tracks connector-level counters: an exported interface plus an
// atomic-counter default implementation, installed via a functional
// option.
type Stats interface {
	IncrementRequestsSent()
	IncrementResponsesReceived()
	IncrementTimeouts()
	IncrementReconnects()
	IncrementBytesSent(n int64)
	IncrementBytesReceived(n int64)

	GetRequestsSent() int64
	GetResponsesReceived() int64
	GetTimeouts() int64
	GetReconnects() int64
	GetBytesSent() int64
	GetBytesReceived() int64
}

// DefaultStats implements Stats with atomic counters.
type DefaultStats struct {
	requestsSent      int64
	responsesReceived int64
	timeouts          int64
	reconnects        int64
	bytesSent         int64
	bytesReceived     int64
}

// NewDefaultStats creates a new DefaultStats instance.
func NewDefaultStats() *DefaultStats { return &DefaultStats{} }

func (s *DefaultStats) IncrementRequestsSent()        { atomic.AddInt64(&s.requestsSent, 1) }
func (s *DefaultStats) IncrementResponsesReceived()   { atomic.AddInt64(&s.responsesReceived, 1) }
func (s *DefaultStats) IncrementTimeouts()             { atomic.AddInt64(&s.timeouts, 1) }
func (s *DefaultStats) IncrementReconnects()           { atomic.AddInt64(&s.reconnects, 1) }
func (s *DefaultStats) IncrementBytesSent(n int64)     { atomic.AddInt64(&s.bytesSent, n) }
func (s *DefaultStats) IncrementBytesReceived(n int64) { atomic.AddInt64(&s.bytesReceived, n) }

func (s *DefaultStats) GetRequestsSent() int64      { return atomic.LoadInt64(&s.requestsSent) }
func (s *DefaultStats) GetResponsesReceived() int64 { return atomic.LoadInt64(&s.responsesReceived) }
func (s *DefaultStats) GetTimeouts() int64          { return atomic.LoadInt64(&s.timeouts) }
func (s *DefaultStats) GetReconnects() int64        { return atomic.LoadInt64(&s.reconnects) }
func (s *DefaultStats) GetBytesSent() int64         { return atomic.LoadInt64(&s.bytesSent) }
func (s *DefaultStats) GetBytesReceived() int64     { return atomic.LoadInt64(&s.bytesReceived) }
