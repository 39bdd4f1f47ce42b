package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/yc7764/whisperstream/internal/engine"
	"github.com/yc7764/whisperstream/internal/observe"
	"github.com/yc7764/whisperstream/internal/protocol"
)

// tooBusyReason is sent as a %R payload when no engine frees up in time.
const tooBusyReason = `{"reason": "SERVER_TOO_BUSY"}`

// releaseAckTimeout bounds the wait for the worker's %F terminator during
// cleanup, so an engine whose worker is wedged mid-inference still returns
// to the pool promptly.
const releaseAckTimeout = 2 * time.Second

// handle runs one connection to completion and records its metrics.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	start := time.Now()
	log := s.log.With("remote", conn.RemoteAddr().String())
	s.metrics.ActiveSessions.Add(ctx, 1)
	// Hard shutdown: cut the socket when the server context ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	outcome := s.session(ctx, conn, log)

	stop()
	conn.Close()
	s.metrics.ActiveSessions.Add(context.Background(), -1)
	s.metrics.SessionDuration.Record(context.Background(), time.Since(start).Seconds())
	s.metrics.Sessions.Add(context.Background(), 1, observe.SessionOutcome(outcome))
	log.Info("connection closed", "outcome", outcome, "duration", time.Since(start).Round(time.Millisecond))
}

// session walks the per-connection state machine: handshake, identification,
// engine allocation, relay, cleanup. It returns the session outcome label.
func (s *Server) session(ctx context.Context, conn net.Conn, log *slog.Logger) string {
	s.setReadDeadline(conn)
	if err := protocol.ReadMagic(conn); err != nil {
		log.Warn("handshake rejected", "error", err)
		s.metrics.ProtocolErrors.Add(ctx, 1)
		_ = protocol.WriteFinal(conn, "")
		return "protocol_error"
	}

	f, err := s.readFrame(conn)
	if err != nil {
		return s.closeOnReadError(conn, log, err)
	}
	switch f.Code {
	case protocol.CodeStatus:
		return s.status(conn, log)
	case protocol.CodeUser:
	default:
		log.Warn("illegal packet before login", "code", f.Code.String())
		s.metrics.ProtocolErrors.Add(ctx, 1)
		_ = protocol.WriteFinal(conn, "")
		return "protocol_error"
	}
	username := string(f.Payload)
	log = log.With("user", username)

	eng, err := s.pool.Allocate(ctx)
	if err != nil {
		if errors.Is(err, engine.ErrNoEngine) {
			log.Warn("server too busy, rejecting session")
			_ = protocol.WriteFrame(conn, protocol.CodeResult, []byte(tooBusyReason))
			_ = protocol.WriteFinal(conn, "")
			return "too_busy"
		}
		return "disconnect" // server shutting down
	}
	log = log.With("engine", eng.Name)

	eng.Drain()
	outcome := s.relay(ctx, conn, eng, username, log)
	s.pool.Release(eng)
	return outcome
}

// status answers a %c query with one %C line per pool slot and closes. No
// engine is allocated.
func (s *Server) status(conn net.Conn, log *slog.Logger) string {
	for i, busy := range s.pool.Status() {
		state := "sleeping"
		if busy {
			state = "running"
		}
		line := fmt.Appendf(nil, "engine %d: %s", i, state)
		if err := protocol.WriteFrame(conn, protocol.CodeEngineStatus, line); err != nil {
			log.Warn("status write failed", "error", err)
			return "disconnect"
		}
	}
	_ = protocol.WriteFinal(conn, "")
	log.Info("status query served", "engines", s.pool.Size())
	return "status"
}

// relay owns the engine for the remainder of the session: welcome, wait for
// %b, forward traffic both ways, then hand the engine back clean. The
// deferred cleanup makes sure the worker has left its session loop before
// the caller releases the slot.
func (s *Server) relay(ctx context.Context, conn net.Conn, eng *engine.Engine, username string, log *slog.Logger) (outcome string) {
	sawFinal := false
	defer func() {
		if !sawFinal {
			// The worker may still be mid-session: drain stale traffic, ask
			// it to finish, and wait briefly for its terminator.
			eng.Drain()
			select {
			case eng.In <- engine.Message{Code: protocol.CodeFinish}:
			default:
			}
			waitForFinal(eng, releaseAckTimeout)
		}
		eng.Drain()
	}()

	welcome := fmt.Appendf(nil, "welcome message for user[%s]", username)
	if err := protocol.WriteFrame(conn, protocol.CodeLogin, welcome); err != nil {
		log.Warn("welcome write failed", "error", err)
		return "disconnect"
	}

	f, err := s.readFrame(conn)
	if err != nil {
		return s.closeOnReadError(conn, log, err)
	}
	if f.Code != protocol.CodeBegin {
		log.Warn("illegal packet before begin", "code", f.Code.String())
		s.metrics.ProtocolErrors.Add(ctx, 1)
		_ = protocol.WriteFinal(conn, "")
		return "protocol_error"
	}
	eng.In <- engine.Message{Code: protocol.CodeBegin, Payload: []byte(username)}
	log.Info("session begun")

	stopReader := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		sawFinal = s.forwardResults(conn, eng, stopReader, log)
	}()

	for {
		f, err := s.readFrame(conn)
		if err != nil {
			close(stopReader)
			<-readerDone
			return s.closeOnReadError(conn, log, err)
		}
		log.Debug("packet", "code", f.Code.String(), "len", len(f.Payload))

		select {
		case eng.In <- engine.Message{Code: f.Code, Payload: f.Payload}:
		case <-ctx.Done():
			close(stopReader)
			<-readerDone
			return "disconnect"
		}
		if f.Code == protocol.CodeFinish {
			break
		}
	}

	// Clean finish: let the reader forward the remaining results until the
	// worker's terminator.
	select {
	case <-readerDone:
	case <-ctx.Done():
		close(stopReader)
		<-readerDone
	}
	if sawFinal {
		return "ok"
	}
	return "disconnect"
}

// forwardResults pumps the engine's out-queue onto the socket. It returns
// true once the worker's %F terminator has been relayed, false if it was
// stopped or the socket died first.
func (s *Server) forwardResults(conn net.Conn, eng *engine.Engine, stop <-chan struct{}, log *slog.Logger) bool {
	for {
		select {
		case <-stop:
			return false
		case msg := <-eng.Out:
			switch msg.Code {
			case protocol.CodeResult, protocol.CodeError:
				if err := protocol.WriteFrame(conn, msg.Code, msg.Payload); err != nil {
					log.Debug("result write failed", "error", err)
					return false
				}
				log.Debug("response", "code", msg.Code.String(), "len", len(msg.Payload))
			case protocol.CodeFinal:
				_ = protocol.WriteFinal(conn, "")
				return true
			}
		}
	}
}

// closeOnReadError classifies a failed client read, best-effort emits the
// matching terminal frame, and returns the session outcome.
func (s *Server) closeOnReadError(conn net.Conn, log *slog.Logger, err error) string {
	var nerr net.Error
	switch {
	case errors.As(err, &nerr) && nerr.Timeout():
		log.Warn("client idle past socket timeout")
		_ = protocol.WriteFinal(conn, "TIME_OUT")
		return "timeout"
	case errors.Is(err, protocol.ErrProtocol):
		log.Warn("illegal packet", "error", err)
		s.metrics.ProtocolErrors.Add(context.Background(), 1)
		_ = protocol.WriteFinal(conn, "")
		return "protocol_error"
	case errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed):
		log.Info("client disconnected")
		return "disconnect"
	default:
		log.Warn("client read failed", "error", err)
		return "disconnect"
	}
}

// readFrame reads one frame under the per-read idle deadline.
func (s *Server) readFrame(conn net.Conn) (protocol.Frame, error) {
	s.setReadDeadline(conn)
	return protocol.ReadFrame(conn)
}

func (s *Server) setReadDeadline(conn net.Conn) {
	if s.timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.timeout))
	}
}

// waitForFinal consumes out-queue traffic until the worker's %F terminator
// or the deadline, whichever comes first.
func waitForFinal(eng *engine.Engine, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case msg := <-eng.Out:
			if msg.Code == protocol.CodeFinal {
				return true
			}
		case <-timer.C:
			return false
		}
	}
}
