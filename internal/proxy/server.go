package proxy

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sockpivot/sockpivot/internal/agent"
	"github.com/sockpivot/sockpivot/internal/socks5"
)

// Server is the local SOCKS5 listener. Each accepted connection runs on its
// own goroutine so a slow or stalled remote agent on one flow never blocks
// accept or other flows.
type Server struct {
	ctx   context.Context
	cfg   Config
	conns sync.WaitGroup
}

// NewServer returns a Server bound to ctx. Cancelling ctx signals every
// in-flight bridge to close; the caller closes the listener.
func NewServer(ctx context.Context, cfg Config) *Server {
	return &Server{ctx: ctx, cfg: cfg}
}

// Serve accepts connections on ln until it is closed. A listener closed
// because ctx was cancelled is a clean shutdown, not an error.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil && errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConn(conn)
		}()
	}
}

// Wait blocks until every in-flight connection has finished.
func (s *Server) Wait() {
	s.conns.Wait()
}

// handleConn dispatches one accepted client: SOCKS5 negotiation, CONNECT
// parsing, remote open, then the bridge. Failures are answered with the
// matching SOCKS5 reply and terminate only this connection.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	logger := log.With().Str("client", conn.RemoteAddr().String()).Logger()

	if s.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	if err := socks5.ServerNegotiateNoAuth(conn); err != nil {
		logger.Debug().Err(err).Msg("negotiation failed")
		return
	}

	req, err := socks5.ServerReadRequest(conn)
	if err != nil {
		if errors.Is(err, socks5.ErrAddressNotSupported) {
			socks5.WriteAddressTypeNotSupportedReply(conn)
		}
		logger.Debug().Err(err).Msg("bad request")
		return
	}

	if req.Cmd != socks5.CmdConnect {
		// Reply before any agent traffic; only CONNECT is supported.
		socks5.WriteCommandNotSupportedReply(conn)
		logger.Debug().Uint8("cmd", req.Cmd).Msg("command not supported")
		return
	}

	logger = logger.With().Str("target", req.Target()).Logger()

	id, err := s.cfg.Agent.Open(s.ctx, s.cfg.Session, req.Host, req.Port)
	if err != nil {
		s.writeOpenFailure(conn, err)
		logger.Warn().Err(err).Msg("remote open failed")
		return
	}

	_ = conn.SetDeadline(time.Time{})

	if err := socks5.WriteSuccessReply(conn, conn.LocalAddr()); err != nil {
		logger.Debug().Err(err).Msg("success reply failed")
		s.closeRemote(id, logger)
		return
	}

	logger.Info().Str("conn", string(id)).Msg("bridging")

	bridge := NewBridge(s.cfg.Agent, s.cfg.Session, id, conn, s.cfg.PollingInterval, logger)
	if err := bridge.Run(s.ctx); err != nil {
		logger.Warn().Err(err).Msg("bridge failed")
		return
	}
	logger.Info().Str("conn", string(id)).Msg("closed")
}

// writeOpenFailure maps an agent error from Open onto the closest SOCKS5
// reply code.
func (s *Server) writeOpenFailure(conn net.Conn, err error) {
	switch agent.KindOf(err) {
	case agent.KindConnectFailed:
		socks5.WriteConnectionRefusedReply(conn)
	case agent.KindUnreachable:
		socks5.WriteHostUnreachableReply(conn)
	default:
		socks5.WriteGeneralFailureReply(conn)
	}
}

// closeRemote releases a handle that never made it to a bridge.
func (s *Server) closeRemote(id agent.ConnID, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := s.cfg.Agent.Close(ctx, s.cfg.Session, id); err != nil {
		logger.Debug().Err(err).Msg("remote close failed")
	}
}
