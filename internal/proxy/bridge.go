package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sockpivot/sockpivot/internal/agent"
)

// State tracks a bridge through its life. Transitions only move forward;
// StateFailed can be entered from any earlier state.
type State int32

const (
	StateOpening State = iota
	StateBridging
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateBridging:
		return "bridging"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// closeTimeout bounds the best-effort remote teardown call, which runs on a
// fresh context because the bridge context is usually already cancelled.
const closeTimeout = 10 * time.Second

var (
	errLocalClosed  = errors.New("local connection closed")
	errRemoteClosed = errors.New("remote flow closed")
)

// Bridge pumps bytes between one local socket and one remote flow held open
// by the agent. It owns both exclusively: a single writer goroutine forwards
// local reads, and a single poller goroutine fetches buffered remote bytes,
// so no two read calls or two write calls for the same ConnID are ever in
// flight at once.
type Bridge struct {
	agent agent.Agent
	sess  agent.Session
	id    agent.ConnID
	local net.Conn
	poll  time.Duration
	log   zerolog.Logger

	state atomic.Int32
}

// NewBridge pairs local with the remote flow id. The remote handle must have
// been opened by the caller and is closed by Run on every exit path.
func NewBridge(ag agent.Agent, sess agent.Session, id agent.ConnID, local net.Conn, poll time.Duration, logger zerolog.Logger) *Bridge {
	b := &Bridge{
		agent: ag,
		sess:  sess,
		id:    id,
		local: local,
		poll:  poll,
		log:   logger,
	}
	b.state.Store(int32(StateOpening))
	return b
}

// State reports the bridge's current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
}

// Run bridges until either endpoint closes, ctx is cancelled, or a call
// fails terminally. The remote handle is released on every path; a normal
// close from either side returns nil.
func (b *Bridge) Run(ctx context.Context) error {
	b.setState(StateBridging)

	g, gctx := errgroup.WithContext(ctx)

	var closeOnce sync.Once
	closeLocal := func() {
		closeOnce.Do(func() { _ = b.local.Close() })
	}
	defer closeLocal()

	g.Go(func() error { return b.pump(gctx) })
	g.Go(func() error { return b.pollLoop(gctx) })

	// Closing the local socket is the only way to unblock its Read once
	// the other duty finishes or the server shuts down.
	g.Go(func() error {
		<-gctx.Done()
		closeLocal()
		return nil
	})

	err := g.Wait()

	b.setState(StateClosing)
	b.teardown()

	if err != nil && !isExpectedClose(err) {
		b.setState(StateFailed)
		return err
	}
	b.setState(StateClosed)
	return nil
}

// pump forwards local reads to the remote flow, preserving write order by
// virtue of being the only writer for this handle.
func (b *Bridge) pump(ctx context.Context) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := b.local.Read(buf)
		if n > 0 {
			if werr := b.agent.Write(ctx, b.sess, b.id, buf[:n]); werr != nil {
				if errors.Is(werr, agent.ErrConnClosed) {
					return errRemoteClosed
				}
				return fmt.Errorf("forward %d bytes: %w", n, werr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return errLocalClosed
			}
			return err
		}
	}
}

// pollLoop fetches buffered remote bytes every polling interval and delivers
// them to the local socket. An empty poll is a normal result; only an
// explicit remote close or a failed call ends the loop.
func (b *Bridge) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		data, err := b.agent.Read(ctx, b.sess, b.id)
		if len(data) > 0 {
			if _, werr := b.local.Write(data); werr != nil {
				if errors.Is(werr, net.ErrClosed) || errors.Is(werr, io.ErrClosedPipe) {
					return errLocalClosed
				}
				return fmt.Errorf("deliver %d bytes: %w", len(data), werr)
			}
		}
		if err != nil {
			if errors.Is(err, agent.ErrConnClosed) {
				return errRemoteClosed
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("poll: %w", err)
		}
	}
}

// teardown releases the remote handle. Failures are logged, never
// propagated: remote close is best effort and must not block the local
// teardown path.
func (b *Bridge) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if err := b.agent.Close(ctx, b.sess, b.id); err != nil {
		b.log.Debug().Err(err).Msg("remote close failed")
	}
}

func isExpectedClose(err error) bool {
	return errors.Is(err, errLocalClosed) ||
		errors.Is(err, errRemoteClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled)
}
