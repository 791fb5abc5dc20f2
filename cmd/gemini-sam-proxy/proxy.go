package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-i2p/gemini-sam-proxy/lib/bridge"
	"github.com/go-i2p/gemini-sam-proxy/lib/config"
	"github.com/go-i2p/gemini-sam-proxy/lib/gemini"
	"github.com/go-i2p/gemini-sam-proxy/lib/identity"
	"github.com/go-i2p/gemini-sam-proxy/lib/metrics"
	"github.com/go-i2p/gemini-sam-proxy/lib/resolver"
	"github.com/go-i2p/gemini-sam-proxy/lib/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

// shutdownTimeout bounds how long in-flight requests may keep running
// after the listener has been closed.
const shutdownTimeout = 10 * time.Second

// proxy is the assembled process: one SAM session, one Gemini listener
// and an optional metrics endpoint.
type proxy struct {
	cfg      *config.Config
	log      logrus.FieldLogger
	identity *identity.Identity
	session  *session.Manager
	server   *gemini.Server
	metrics  *metrics.Server

	cancel    context.CancelFunc
	keepalive chan struct{}
}

// newProxy generates the TLS identity and creates the SAM session.
// Failing to create the session is fatal.
func newProxy(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*proxy, error) {
	id, err := identity.Generate(cfg.IdentityOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to generate TLS identity: %w", err)
	}
	log.WithFields(logrus.Fields{
		"fingerprint": id.Fingerprint(),
		"expires":     id.Certificate.NotAfter.Format(time.RFC3339),
	}).Info("Generated TLS certificate")
	if cfg.Identity.CertOut != "" {
		if err := id.WriteCertificate(cfg.Identity.CertOut); err != nil {
			return nil, fmt.Errorf("failed to write certificate: %w", err)
		}
		log.WithField("path", cfg.Identity.CertOut).Info("Wrote TLS certificate")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	dialer := cfg.Dialer(log)
	mgr := session.NewManager(cfg.Session, dialer, log, m)

	log.WithField("addr", cfg.SAM.Address).Info("Connecting to SAM bridge")
	if err := mgr.Start(ctx); err != nil {
		return nil, err
	}

	handler := bridge.NewHandler(mgr, dialer, log).WithMetrics(m)
	if cfg.Resolver.Enabled {
		handler.WithResolver(resolver.New(cfg.Resolver.CacheSize, cfg.Resolver.TTL, log, m))
	}

	lc := cfg.Listener().WithTLS(gemini.ServerTLSConfig(id.TLSCertificate(), gemini.AcceptAnyCertificate{}))
	srv, err := gemini.NewServer(lc, handler, log)
	if err != nil {
		mgr.Close()
		return nil, err
	}
	srv.SetConnTracker(m)

	p := &proxy{
		cfg:      cfg,
		log:      log,
		identity: id,
		session:  mgr,
		server:   srv,
	}
	if cfg.Metrics.Address != "" {
		p.metrics = metrics.NewServer(cfg.Metrics.Address, reg, log)
	}
	return p, nil
}

// start launches the keepalive loop, the metrics endpoint and the
// listener. Listener errors are delivered on the returned channel.
func (p *proxy) start() (<-chan error, error) {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.keepalive = make(chan struct{})
	go func() {
		defer close(p.keepalive)
		if err := p.session.Run(ctx); err != nil {
			p.log.WithError(err).Error("Keepalive stopped")
		}
	}()

	if p.metrics != nil {
		if err := p.metrics.Start(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
		p.log.WithField("addr", p.metrics.Address()).Info("Metrics listening")
	}

	errCh := make(chan error, 1)
	go func() {
		p.log.WithField("addr", p.cfg.Proxy.Listen).Info("Gemini proxy listening")
		if err := p.server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()
	return errCh, nil
}

// stop closes the listener, waits for in-flight requests, then stops the
// keepalive. Stopping the keepalive closes the SAM session.
func (p *proxy) stop() {
	if err := p.server.Close(); err != nil {
		p.log.WithError(err).Warn("Error stopping listener")
	}

	done := make(chan struct{})
	go func() {
		p.server.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		p.log.Warn("Timed out waiting for requests to finish")
	}

	if p.cancel != nil {
		p.cancel()
		<-p.keepalive
	}
	if err := p.session.Close(); err != nil {
		p.log.WithError(err).Warn("Error closing SAM session")
	}
	if p.metrics != nil {
		if err := p.metrics.Stop(); err != nil {
			p.log.WithError(err).Warn("Error stopping metrics server")
		}
	}
}
