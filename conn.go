package weave

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// connState is the Connection Manager's state machine:
// Disconnected → Connecting → Authenticating → Ready → (Disconnected |
// ShuttingDown).
type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateAuthenticating
	stateReady
	stateShuttingDown
)

func (s connState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateAuthenticating:
		return "authenticating"
	case stateReady:
		return "ready"
	case stateShuttingDown:
		return "shutting down"
	default:
		return "unknown"
	}
}

// Credential is the tagged auth value for AUTH: either a bare token,
// or a username/password pair.
type Credential struct {
	Token    string
	Username string
	Password string
}

// TokenCredential builds a token-based Credential.
func TokenCredential(token string) Credential { return Credential{Token: token} }

// UserCredential builds a username/password Credential.
func UserCredential(username, password string) Credential {
	return Credential{Username: username, Password: password}
}

func (c Credential) authBody() any {
	if c.Token != "" {
		return c.Token
	}
	return []string{c.Username, c.Password}
}

// connManager owns transport lifecycle: picking a node, opening a
// transport, authenticating, and running the reconnect loop on loss.
// It is held by Client rather than exported directly.
type connManager struct {
	cfg    *Config
	mux    *multiplexer
	logger Logger
	stats  Stats

	pool *nodePool
	cred Credential

	onPacket func(Packet)
	onReady  func()

	mu      sync.Mutex
	state   connState
	current Transport

	reconnectMu sync.Mutex
	inProgress  bool

	closeOnce sync.Once
	closedCh  chan struct{}

	rejoinFn func(ctx context.Context, t Transport, timeout time.Duration) error
}

func newConnManager(cfg *Config, mux *multiplexer, pool *nodePool, cred Credential) *connManager {
	return &connManager{
		cfg:      cfg,
		mux:      mux,
		logger:   cfg.logger,
		stats:    cfg.stats,
		pool:     pool,
		cred:     cred,
		state:    stateDisconnected,
		closedCh: make(chan struct{}),
	}
}

func (m *connManager) setState(s connState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *connManager) State() connState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *connManager) transport() Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *connManager) isReady() bool {
	return m.State() == stateReady
}

// connect performs connect(pool, auth): record state and
// run the reconnect loop once, synchronously, so the caller's first
// error is surfaced directly instead of only via background retries.
func (m *connManager) connect(ctx context.Context) error {
	m.setState(stateConnecting)
	return m.runReconnectLoop(ctx, true)
}

// runReconnectLoop is reconnect loop, serialized by a
// reentrancy guard (inProgress) so only one loop is ever active. When
// once is true, the loop returns the first attempt's error (or nil on
// success) instead of looping forever in the background.
func (m *connManager) runReconnectLoop(ctx context.Context, once bool) error {
	m.reconnectMu.Lock()
	if m.inProgress {
		m.reconnectMu.Unlock()
		return nil
	}
	m.inProgress = true
	m.reconnectMu.Unlock()
	defer func() {
		m.reconnectMu.Lock()
		m.inProgress = false
		m.reconnectMu.Unlock()
	}()

	backoff := newReconnectBackoff()
	for {
		select {
		case <-m.closedCh:
			return ErrNotConnected
		default:
		}

		attemptID := uuid.New().String()
		node := m.pool.next()
		m.logger.Infof("reconnect attempt %s: dialing %s", attemptID, node)

		t, err := m.attempt(ctx, node, backoff)
		if err == nil {
			m.logger.Infof("reconnect attempt %s: ready on %s", attemptID, node)
			if m.onReady != nil {
				m.onReady()
			}
			return nil
		}

		m.logger.Errorf("reconnect attempt %s failed: %v", attemptID, err)
		m.stats.IncrementReconnects()
		if once {
			return err
		}

		wait := backoff.Wait()
		select {
		case <-time.After(wait):
		case <-m.closedCh:
			return ErrNotConnected
		}
		backoff.Step()
	}
}

// attempt performs one try at {open transport; PING; AUTH; rejoin}.
// On success it retires the previous transport after a grace period
// and installs the new one as current.
func (m *connManager) attempt(ctx context.Context, node Node, backoff *steppedBackoff) (Transport, error) {
	dialTimeout := backoff.Timeout()
	if m.cfg.connectTimeout > 0 && m.cfg.connectTimeout < dialTimeout {
		dialTimeout = m.cfg.connectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	t, err := m.dial(dialCtx, node)
	if err != nil {
		return nil, fmt.Errorf("open transport: %w", err)
	}

	m.setState(stateAuthenticating)

	if err := m.ping(t); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := m.auth(t); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}
	if m.rejoinFn != nil {
		if err := m.rejoinFn(ctx, t, m.cfg.authTimeout); err != nil {
			m.logger.Warnf("rejoin after reconnect reported an error: %v", err)
		}
	}

	m.mu.Lock()
	prev := m.current
	m.current = t
	m.state = stateReady
	m.mu.Unlock()

	if prev != nil {
		go func() {
			time.Sleep(m.cfg.closeGrace)
			_ = prev.Close()
		}()
	}
	return t, nil
}

// dial opens a fresh transport to node. The onLost callback closes over
// the (as yet unassigned) t so that when it later fires it reports the
// identity of the transport that was actually dialed here, letting
// handleTransportLost tell a genuine current-transport loss apart from
// a superseded transport's scheduled close after the grace period.
func (m *connManager) dial(ctx context.Context, node Node) (Transport, error) {
	var t Transport
	handler := packetHandler{
		onPacket: m.onPacket,
		onLost:   func(err error) { m.handleTransportLost(t, err) },
	}
	var err error
	if m.cfg.useWS {
		scheme := "ws"
		if m.cfg.tlsConfig != nil {
			scheme = "wss"
		}
		url := fmt.Sprintf("%s://%s", scheme, node)
		t, err = dialWS(ctx, url, m.cfg.tlsConfig, m.cfg.wsMaxMessageSize, handler, m.logger, m.cfg.dump, m.stats)
	} else {
		t, err = dialTCP(ctx, node.String(), m.cfg.tlsConfig, handler, m.logger, m.cfg.dump, m.stats)
	}
	return t, err
}

func (m *connManager) ping(t Transport) error {
	ch, err := m.mux.send(ProtoReqPing, nil, m.cfg.pingTimeout, t)
	if err != nil {
		return err
	}
	r := <-ch
	return r.Err
}

func (m *connManager) auth(t Transport) error {
	ch, err := m.mux.send(ProtoReqAuth, m.cred.authBody(), m.cfg.authTimeout, t)
	if err != nil {
		return err
	}
	r := <-ch
	return r.Err
}

// handleTransportLost is the onLost callback passed to every dialed
// transport. It only cancels pending requests and kicks off a
// reconnect when the lost transport is still the manager's current
// one. An old transport being retired on schedule after a successful
// reconnect must not re-trigger anything.
func (m *connManager) handleTransportLost(lost Transport, err error) {
	m.mu.Lock()
	isCurrent := m.current == lost
	if isCurrent {
		m.state = stateDisconnected
	}
	m.mu.Unlock()

	if !isCurrent {
		return
	}

	m.logger.Errorf("connection lost: %v", err)
	m.mux.cancelAll()

	if !m.cfg.autoReconnect {
		return
	}
	go func() {
		_ = m.runReconnectLoop(context.Background(), false)
	}()
}

// triggerReconnect is invoked by the Event Router on a SHUTTING_DOWN
// node-status push: start a reconnect while the current
// transport keeps answering pending requests until its grace period.
func (m *connManager) triggerReconnect() {
	if !m.cfg.autoReconnect {
		return
	}
	m.setState(stateShuttingDown)
	go func() {
		_ = m.runReconnectLoop(context.Background(), false)
	}()
}

// send issues a request per the active write policy: "strict" fails
// immediately if not connected; "ensure" loops, retrying after a
// lost-connection class of error (see isRetryableWriteError).
func (m *connManager) send(ctx context.Context, tp Proto, data any, timeout time.Duration) (result, error) {
	for {
		t := m.transport()
		if t == nil || !m.isReady() {
			if !m.cfg.autoReconnect {
				return result{}, ErrNotConnected
			}
			select {
			case <-ctx.Done():
				return result{}, ctx.Err()
			case <-time.After(m.cfg.writeRetryInterval):
			}
			continue
		}

		ch, err := m.mux.send(tp, data, timeout, t)
		if err != nil {
			if m.cfg.autoReconnect && isRetryableWriteError(err) {
				m.logger.Warnf("write failed, will retry: %v", err)
				select {
				case <-ctx.Done():
					return result{}, ctx.Err()
				case <-time.After(m.cfg.writeRetryInterval):
				}
				continue
			}
			return result{}, err
		}

		var r result
		select {
		case r = <-ch:
		case <-ctx.Done():
			return result{}, ctx.Err()
		}
		if m.cfg.autoReconnect && isRetryableWriteError(r.Err) {
			m.logger.Warnf("request failed, will retry: %v", r.Err)
			select {
			case <-ctx.Done():
				return result{}, ctx.Err()
			case <-m.closedCh:
				return r, nil
			case <-time.After(m.cfg.writeRetryInterval):
			}
			continue
		}
		return r, nil
	}
}

func (m *connManager) close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closedCh)
		m.setState(stateShuttingDown)
		t := m.transport()
		if t != nil {
			err = t.Close()
		}
		m.mux.cancelAll()
	})
	return err
}
