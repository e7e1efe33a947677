// Package server binds a parsed configuration to listening sockets and
// owns the single-threaded event loop that drives every connection
// accepted on them (§2 SYSTEM OVERVIEW).
package server

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mossab7/web-server/internal/config"
	"github.com/mossab7/web-server/internal/connection"
	"github.com/mossab7/web-server/internal/errorpages"
	"github.com/mossab7/web-server/internal/handler"
	"github.com/mossab7/web-server/internal/netio"
	"github.com/mossab7/web-server/internal/reactor"
	"github.com/mossab7/web-server/internal/router"
)

// shutdownGrace bounds how long Run keeps draining in-flight connections
// after its context is cancelled before forcing the loop to stop (§9
// supplemented graceful-shutdown feature; not part of the distilled core
// but carried the way a production listener would).
const shutdownGrace = 10 * time.Second

// Server owns one reactor/registry/loop triple shared by every listener
// and connection in the process — the whole point of the single-threaded
// design is that there is exactly one of each (§5 CONCURRENCY & RESOURCE
// MODEL).
type Server struct {
	react    reactor.Reactor
	registry *reactor.Registry
	loop     *reactor.Loop
	log      *zap.Logger

	errorPages *errorpages.Catalog
	listeners  []*listener
}

type listener struct {
	srv     *Server
	sock    *netio.Socket
	server  *config.Server
	router  *router.Router
	handler *handler.Handler
}

// New builds listening sockets for every server block in cfg but does not
// yet register them with the reactor; call Run to start serving.
func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	react, err := reactor.NewEpoll()
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	s := &Server{
		react:      react,
		registry:   reactor.NewRegistry(),
		log:        log.Named("server"),
		errorPages: errorpages.Default(),
	}
	s.loop = reactor.NewLoop(react, s.registry, log)

	for _, srvCfg := range cfg.Servers {
		l, err := s.newListener(srvCfg)
		if err != nil {
			s.closeListeners()
			react.Close()
			return nil, err
		}
		s.listeners = append(s.listeners, l)
	}
	return s, nil
}

func (s *Server) newListener(srvCfg *config.Server) (*listener, error) {
	sock, err := netio.Listen(srvCfg.Host, srvCfg.Port)
	if err != nil {
		return nil, fmt.Errorf("server: listen %s:%d: %w", srvCfg.Host, srvCfg.Port, err)
	}
	return &listener{
		srv:     s,
		sock:    sock,
		server:  srvCfg,
		router:  router.New(srvCfg),
		handler: handler.New(srvCfg, s.errorPages, s.log),
	}, nil
}

func (s *Server) closeListeners() {
	for _, l := range s.listeners {
		l.sock.Close()
	}
}

// Run registers every listener and drives the event loop until ctx is
// cancelled. On cancellation, listeners stop accepting immediately and
// the loop keeps running — draining in-flight connections — until either
// the registry empties or shutdownGrace elapses.
func (s *Server) Run(ctx context.Context) error {
	for _, l := range s.listeners {
		if err := s.registerListener(l); err != nil {
			return err
		}
	}

	draining := false
	var drainDeadline time.Time
	for {
		select {
		case <-ctx.Done():
			if !draining {
				draining = true
				s.stopAccepting()
				drainDeadline = time.Now().Add(shutdownGrace)
				s.log.Info("shutting down, draining in-flight connections")
			}
		default:
		}

		if draining && (s.registry.Len() == 0 || time.Now().After(drainDeadline)) {
			return s.react.Close()
		}

		if err := s.loop.RunOnce(); err != nil {
			return err
		}
	}
}

func (s *Server) registerListener(l *listener) error {
	s.registry.Register(l.sock.Fd(), reactor.Handler{
		OnReadable: func(int) { l.acceptLoop() },
		Destroy:    func(int) { l.sock.Close() },
	}, reactor.InterestRead, time.Time{})
	return s.react.Add(l.sock.Fd(), reactor.InterestRead)
}

// stopAccepting removes every listener fd from the registry (triggering
// its Destroy, which closes the socket) without touching any already
// accepted connection.
func (s *Server) stopAccepting() {
	for _, l := range s.listeners {
		s.react.Remove(l.sock.Fd())
		s.registry.Remove(l.sock.Fd())
	}
}

// acceptLoop drains every pending connection on one listening socket in a
// single readable event, since a listener is level-triggered and may have
// accumulated several pending connections (§4.1/§4.2).
func (l *listener) acceptLoop() {
	for {
		sock, err := l.sock.Accept()
		if err != nil {
			if err == netio.ErrWouldBlock {
				return
			}
			l.srv.log.Warn("accept failed", zap.Error(err))
			return
		}

		name := l.server.Name
		if name == "" {
			name = l.server.Host
		}
		conn := connection.New(sock, l.server, l.router, l.handler,
			l.srv.registry, l.srv.react, l.srv.log, name, strconv.Itoa(l.server.Port))
		if err := conn.Register(); err != nil {
			l.srv.log.Warn("register connection failed", zap.Error(err))
			sock.Close()
		}
	}
}
