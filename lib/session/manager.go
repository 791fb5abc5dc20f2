package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/gemini-sam-proxy/lib/samclient"
	"github.com/go-i2p/gemini-sam-proxy/lib/util"
	"github.com/sirupsen/logrus"
)

// Probe results reported to a ProbeRecorder.
const (
	ProbeOK       = "ok"
	ProbeMismatch = "mismatch"
	ProbeError    = "error"
)

// Dialer opens handshaken control connections.
// *samclient.Dialer implements it.
type Dialer interface {
	DialHandshake(ctx context.Context) (*samclient.Client, error)
}

// ProbeRecorder counts keepalive outcomes. May be nil.
type ProbeRecorder interface {
	KeepaliveProbe(result string)
}

// Manager creates the STREAM session and keeps its control connection
// alive. The control connection is owned by the Manager for its whole
// lifetime and is never used for streams.
type Manager struct {
	cfg    Config
	dialer Dialer
	log    logrus.FieldLogger
	probes ProbeRecorder

	mu          sync.RWMutex
	client      *samclient.Client
	status      Status
	destination string
	version     string
	createdAt   time.Time

	healthy   atomic.Bool
	lastProbe atomic.Int64
	failures  atomic.Uint64
}

// NewManager returns a Manager that has not contacted the bridge yet.
// log and probes may be nil.
func NewManager(cfg Config, dialer Dialer, log logrus.FieldLogger, probes ProbeRecorder) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		log:    log.WithField("session", cfg.ID),
		probes: probes,
	}
}

// Start dials the bridge, performs HELLO and creates the session.
// Any error is fatal for the proxy: without a session no request can be
// bridged.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil || m.status != StatusCreating {
		return ErrAlreadyStarted
	}
	if err := m.cfg.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	client, err := m.dialer.DialHandshake(ctx)
	if err != nil {
		return fmt.Errorf("session %s: %w", m.cfg.ID, err)
	}

	dest, _, err := client.SessionCreate(m.cfg.CreateOptions())
	if err != nil {
		client.Close()
		return fmt.Errorf("session %s: %w", m.cfg.ID, err)
	}

	m.client = client
	m.destination = dest
	m.version = client.Version()
	m.status = StatusActive
	m.createdAt = time.Now()
	m.healthy.Store(true)

	m.log.WithFields(logrus.Fields{
		"version": m.version,
		"sam":     client.RemoteAddr(),
	}).Info("SAM session created")
	return nil
}

// Run checks the control connection once right away and then every
// Interval until ctx is done. Failures are logged and counted; the session
// is never recreated. Cancelling ctx closes the session, which also
// releases a keepalive still waiting on a bridge that stopped answering.
func (m *Manager) Run(ctx context.Context) error {
	if m.Status() != StatusActive {
		return ErrNotStarted
	}

	stop := context.AfterFunc(ctx, func() { m.Close() })
	defer stop()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := m.Keepalive(); err != nil && ctx.Err() == nil {
			m.log.WithError(err).Warn("SAM keepalive failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Keepalive runs one probe: answer any pending PING from the bridge, then
// send our own PING and expect the matching PONG.
func (m *Manager) Keepalive() error {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		return ErrNotStarted
	}

	m.lastProbe.Store(time.Now().UnixNano())

	if _, err := client.CheckPing(); err != nil {
		return m.probeFailed(ProbeError, err)
	}
	ok, err := client.SendPing("")
	if err != nil {
		return m.probeFailed(ProbeError, err)
	}
	if !ok {
		return m.probeFailed(ProbeMismatch, nil)
	}

	m.healthy.Store(true)
	m.record(ProbeOK)
	m.log.Debug("SAM keepalive ok")
	return nil
}

func (m *Manager) probeFailed(result string, err error) error {
	m.healthy.Store(false)
	m.failures.Add(1)
	m.record(result)
	if err == nil {
		return fmt.Errorf("%w: PONG did not match", util.ErrKeepaliveProbeFailed)
	}
	return fmt.Errorf("%w: %w", util.ErrKeepaliveProbeFailed, err)
}

func (m *Manager) record(result string) {
	if m.probes != nil {
		m.probes.KeepaliveProbe(result)
	}
}

// ID returns the session nickname.
func (m *Manager) ID() string {
	return m.cfg.ID
}

// Version returns the SAM version negotiated at Start.
func (m *Manager) Version() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Destination returns the DESTINATION= private key returned by SESSION
// CREATE.
func (m *Manager) Destination() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.destination
}

// Status returns the current session status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Healthy reports whether the last keepalive probe succeeded. It is true
// right after Start.
func (m *Manager) Healthy() bool {
	return m.healthy.Load()
}

// LastProbe returns when the last keepalive probe ran, or the zero time.
func (m *Manager) LastProbe() time.Time {
	n := m.lastProbe.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Failures returns the number of failed keepalive probes.
func (m *Manager) Failures() uint64 {
	return m.failures.Load()
}

// CreatedAt returns when the session was created.
func (m *Manager) CreatedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.createdAt
}

// Close closes the control connection, which removes the session from
// the bridge. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	client := m.client
	if m.status == StatusClosing || m.status == StatusClosed {
		m.mu.Unlock()
		return nil
	}
	m.status = StatusClosing
	m.mu.Unlock()

	var err error
	if client != nil {
		err = client.Close()
	}

	m.mu.Lock()
	m.status = StatusClosed
	m.mu.Unlock()
	m.healthy.Store(false)
	m.log.Info("SAM session closed")
	return err
}
