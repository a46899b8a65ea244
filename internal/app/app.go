// Package app wires the proxy engine's components into a running
// process: the runtime bootstrap described in spec 4.7.
package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/paulGUZU/ifproxy/internal/dialer"
	"github.com/paulGUZU/ifproxy/internal/governor"
	"github.com/paulGUZU/ifproxy/internal/httpproxy"
	"github.com/paulGUZU/ifproxy/internal/logging"
	"github.com/paulGUZU/ifproxy/internal/socks5"
	"github.com/paulGUZU/ifproxy/pkg/banner"
	"github.com/paulGUZU/ifproxy/pkg/config"
)

// ShutdownGrace bounds how long Run waits for in-flight connections to
// drain after ctx is canceled before returning anyway.
const ShutdownGrace = 5 * time.Second

// BindError is returned by Run when a listener fails to bind, so callers
// can map it onto the documented exit code 2.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string { return fmt.Sprintf("bind %s: %v", e.Addr, e.Err) }
func (e *BindError) Unwrap() error { return e.Err }

// Run validates cfg, starts both front-ends, and blocks until ctx is
// canceled (e.g. by a signal-derived context from cmd/ifproxy) and then
// until in-flight connections have drained or the grace window elapses,
// whichever comes first.
func Run(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if applied, err := raiseFileLimit(); err != nil {
		log.Warn("app: could not raise file descriptor limit: " + err.Error())
	} else if applied > 0 {
		log.Info(fmt.Sprintf("app: file descriptor soft limit raised to %d", applied))
	}

	d := dialer.New(cfg.Iface)
	gov := governor.New(cfg.MaxConns, log)

	readTimeout := time.Duration(cfg.ReadTimeoutMS) * time.Millisecond
	sessionTimeout := time.Duration(cfg.SessionMS) * time.Millisecond

	httpListener, err := net.Listen("tcp", cfg.HTTPListen)
	if err != nil {
		return &BindError{Addr: cfg.HTTPListen, Err: err}
	}

	var socksListener net.Listener
	if cfg.SOCKS5Enabled {
		socksListener, err = net.Listen("tcp", cfg.SOCKS5Listen)
		if err != nil {
			_ = httpListener.Close()
			return &BindError{Addr: cfg.SOCKS5Listen, Err: err}
		}
	}

	banner.PrintStartup(cfg)

	httpHandler := &httpproxy.Handler{
		Dialer:         d,
		Log:            log,
		ReadTimeout:    readTimeout,
		SessionTimeout: sessionTimeout,
		IdleTimeout:    sessionTimeout,
	}

	done := make(chan struct{}, 2)
	pending := 1

	go func() {
		if err := gov.Serve(ctx, httpListener, httpHandler.Serve); err != nil {
			log.Log("app: http listener stopped: " + err.Error())
		}
		done <- struct{}{}
	}()

	if socksListener != nil {
		pending++
		socksHandler := &socks5.Server{
			Dialer:         d,
			Log:            log,
			Username:       cfg.SOCKS5User,
			Password:       cfg.SOCKS5Pass,
			ReadTimeout:    readTimeout,
			SessionTimeout: sessionTimeout,
			IdleTimeout:    sessionTimeout,
		}
		go func() {
			if err := gov.Serve(ctx, socksListener, socksHandler.Serve); err != nil {
				log.Log("app: socks5 listener stopped: " + err.Error())
			}
			done <- struct{}{}
		}()
	}

	<-ctx.Done()
	log.Info("app: shutdown signal received, draining in-flight connections")
	waitDrain(gov, ShutdownGrace)

	for i := 0; i < pending; i++ {
		<-done
	}
	return nil
}

func waitDrain(gov *governor.Governor, grace time.Duration) {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if gov.ActiveCount() == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
