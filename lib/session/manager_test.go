package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/gemini-sam-proxy/lib/samclient"
	"github.com/go-i2p/gemini-sam-proxy/lib/samtest"
	"github.com/go-i2p/gemini-sam-proxy/lib/util"
	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type probeCounter struct {
	mu      sync.Mutex
	results []string
}

func (p *probeCounter) KeepaliveProbe(result string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, result)
}

func (p *probeCounter) last() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.results) == 0 {
		return ""
	}
	return p.results[len(p.results)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newManager(t *testing.T, b *samtest.Bridge, probes ProbeRecorder) *Manager {
	t.Helper()
	d := &samclient.Dialer{Addr: b.Addr(), Logger: quietLogger()}
	m := NewManager(DefaultConfig(), d, quietLogger(), probes)
	t.Cleanup(func() { m.Close() })
	return m
}

func startManager(t *testing.T, b *samtest.Bridge, probes ProbeRecorder) *Manager {
	t.Helper()
	m := newManager(t, b, probes)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return m
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
	}{
		{StatusCreating, "CREATING"},
		{StatusActive, "ACTIVE"},
		{StatusClosing, "CLOSING"},
		{StatusClosed, "CLOSED"},
		{Status(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.status.String(); got != tt.expected {
				t.Errorf("Status.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestManager_Start(t *testing.T) {
	b := samtest.NewBridge(t)
	b.Version = "3.2"
	m := startManager(t, b, nil)

	if got := m.Status(); got != StatusActive {
		t.Errorf("Status() = %v, want ACTIVE", got)
	}
	if got := m.Version(); got != "3.2" {
		t.Errorf("Version() = %q, want %q", got, "3.2")
	}
	if got := m.Destination(); got != samtest.FakePrivateKey {
		t.Errorf("Destination() length = %d, want %d", len(got), len(samtest.FakePrivateKey))
	}
	if got := m.ID(); got != DefaultID {
		t.Errorf("ID() = %q, want %q", got, DefaultID)
	}
	if !m.Healthy() {
		t.Error("Healthy() = false right after Start")
	}
	if m.CreatedAt().IsZero() {
		t.Error("CreatedAt() is zero")
	}

	want := "SESSION CREATE STYLE=STREAM ID=GeminiProxy DESTINATION=TRANSIENT SIGNATURE_TYPE=EdDSA_SHA512_Ed25519"
	if !b.HasCommand(want) {
		t.Errorf("bridge did not receive %q; got %q", want, b.Commands())
	}
	if !b.HasCommand("HELLO VERSION") {
		t.Error("bridge did not receive HELLO VERSION")
	}

	if err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestManager_StartFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(b *samtest.Bridge)
		want  error
	}{
		{
			name:  "handshake refused",
			setup: func(b *samtest.Bridge) { b.HelloResult = "NOVERSION" },
			want:  util.ErrHandshakeFailed,
		},
		{
			name:  "session refused",
			setup: func(b *samtest.Bridge) { b.SessionResult = "DUPLICATED_ID" },
			want:  util.ErrSessionCreateFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := samtest.NewBridge(t)
			tt.setup(b)
			m := newManager(t, b, nil)

			err := m.Start(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Start() error = %v, want %v", err, tt.want)
			}
			if !util.IsFatal(err) {
				t.Errorf("IsFatal(%v) = false, want true", err)
			}
			if got := m.Status(); got != StatusCreating {
				t.Errorf("Status() = %v, want CREATING", got)
			}
		})
	}
}

func TestManager_StartInvalidConfig(t *testing.T) {
	b := samtest.NewBridge(t)
	cfg := DefaultConfig()
	cfg.InboundLength = 9
	m := NewManager(cfg, &samclient.Dialer{Addr: b.Addr()}, quietLogger(), nil)

	if err := m.Start(context.Background()); !errors.Is(err, ErrInvalidTunnelConfig) {
		t.Errorf("Start() error = %v, want ErrInvalidTunnelConfig", err)
	}
	if got := b.Connections(); got != 0 {
		t.Errorf("bridge connections = %d, want 0", got)
	}
}

func TestManager_Keepalive(t *testing.T) {
	b := samtest.NewBridge(t)
	probes := &probeCounter{}
	m := startManager(t, b, probes)

	if err := m.Keepalive(); err != nil {
		t.Fatalf("Keepalive() error = %v", err)
	}
	if !m.Healthy() {
		t.Error("Healthy() = false after good probe")
	}
	if got := probes.last(); got != ProbeOK {
		t.Errorf("probe result = %q, want %q", got, ProbeOK)
	}
	if m.LastProbe().IsZero() {
		t.Error("LastProbe() is zero after a probe")
	}
}

func TestManager_KeepaliveAnswersBridgePing(t *testing.T) {
	b := samtest.NewBridge(t)
	m := startManager(t, b, nil)

	b.PingSessions("xyz")
	time.Sleep(50 * time.Millisecond)

	if err := m.Keepalive(); err != nil {
		t.Fatalf("Keepalive() error = %v", err)
	}
	waitFor(t, "PONG xyz", func() bool { return b.HasCommand("PONG xyz") })
}

func TestManager_KeepaliveMismatch(t *testing.T) {
	b := samtest.NewBridge(t)
	probes := &probeCounter{}
	m := startManager(t, b, probes)
	b.BadPong.Store(true)

	err := m.Keepalive()
	if !errors.Is(err, util.ErrKeepaliveProbeFailed) {
		t.Fatalf("Keepalive() error = %v, want ErrKeepaliveProbeFailed", err)
	}
	if m.Healthy() {
		t.Error("Healthy() = true after failed probe")
	}
	if got := m.Failures(); got != 1 {
		t.Errorf("Failures() = %d, want 1", got)
	}
	if got := probes.last(); got != ProbeMismatch {
		t.Errorf("probe result = %q, want %q", got, ProbeMismatch)
	}

	// The session is kept; the next good probe restores health.
	b.BadPong.Store(false)
	if err := m.Keepalive(); err != nil {
		t.Fatalf("Keepalive() after recovery error = %v", err)
	}
	if !m.Healthy() {
		t.Error("Healthy() = false after recovery")
	}
	if got := b.Connections(); got != 1 {
		t.Errorf("bridge connections = %d, want 1 (no reconnect)", got)
	}
}

func TestManager_KeepaliveBridgeGone(t *testing.T) {
	b := samtest.NewBridge(t)
	probes := &probeCounter{}
	m := startManager(t, b, probes)
	b.Close()

	err := m.Keepalive()
	if !errors.Is(err, util.ErrKeepaliveProbeFailed) {
		t.Fatalf("Keepalive() error = %v, want ErrKeepaliveProbeFailed", err)
	}
	if !errors.Is(err, util.ErrTransport) {
		t.Errorf("Keepalive() error = %v, want wrapped ErrTransport", err)
	}
	if got := probes.last(); got != ProbeError {
		t.Errorf("probe result = %q, want %q", got, ProbeError)
	}
}

func TestManager_Run(t *testing.T) {
	b := samtest.NewBridge(t)
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	m := NewManager(cfg, &samclient.Dialer{Addr: b.Addr(), Logger: quietLogger()}, quietLogger(), nil)
	t.Cleanup(func() { m.Close() })

	if err := m.Run(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Run() before Start error = %v, want ErrNotStarted", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitFor(t, "keepalive PING", func() bool { return b.HasCommand("PING ") })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestManager_RunChecksImmediately(t *testing.T) {
	b := samtest.NewBridge(t)
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	m := NewManager(cfg, &samclient.Dialer{Addr: b.Addr(), Logger: quietLogger()}, quietLogger(), nil)
	t.Cleanup(func() { m.Close() })
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitFor(t, "first keepalive PING", func() bool { return b.HasCommand("PING ") })
	if m.LastProbe().IsZero() {
		t.Error("LastProbe() is zero after the first keepalive")
	}
}

func TestManager_RunCancelWithSilentBridge(t *testing.T) {
	b := samtest.NewBridge(t)
	b.SilentPing.Store(true)
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	m := NewManager(cfg, &samclient.Dialer{Addr: b.Addr(), Logger: quietLogger()}, quietLogger(), nil)
	t.Cleanup(func() { m.Close() })
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// The keepalive is now waiting for a PONG that never comes.
	waitFor(t, "keepalive PING", func() bool { return b.HasCommand("PING ") })
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() still blocked after cancel")
	}
	if got := m.Status(); got != StatusClosed {
		t.Errorf("Status() after cancel = %v, want CLOSED", got)
	}
}

func TestManager_Close(t *testing.T) {
	b := samtest.NewBridge(t)
	m := startManager(t, b, nil)

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if got := m.Status(); got != StatusClosed {
		t.Errorf("Status() = %v, want CLOSED", got)
	}
	if m.Healthy() {
		t.Error("Healthy() = true after Close")
	}
	waitFor(t, "QUIT", func() bool { return b.HasCommand("QUIT") })
}
