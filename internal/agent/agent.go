package agent

import (
	"context"
	"net/http"
	"time"
)

// Session is the opaque token minted by EstablishSession and required by
// every later call. One session is established per process run and shared
// read-only by all proxied connections.
type Session string

// ConnID identifies one TCP flow held open by the remote agent. Each ConnID
// is owned by exactly one bridge for its lifetime; the remote side is not
// assumed to tolerate interleaved calls on the same id.
type ConnID string

// Options is the immutable agent configuration, built once at startup.
type Options struct {
	// URL of the deployed web-shell page.
	URL string

	// AckMessage must appear in the handshake response body for the
	// endpoint to count as a live agent rather than an error page.
	AckMessage string

	// Password, when set, accompanies every request as a shared secret.
	Password string

	// Headers are sent verbatim on every request (Host overrides, a
	// User-Agent that blends with normal site traffic, and so on).
	Headers http.Header

	// ProxyURL optionally routes agent traffic through an outbound
	// http://, https:// or socks5:// proxy.
	ProxyURL string

	// RequestTries and RetryInterval drive the retry transport.
	RequestTries  int
	RetryInterval time.Duration
}

// Agent is the capability surface every web-shell flavor exposes. Every call
// is one synchronous round trip to the remote endpoint. Implementations are
// stateless apart from Options and safe for concurrent use by many bridges,
// provided no two callers share a ConnID.
type Agent interface {
	// Identify returns the variant's type tag (php, jsp or aspx).
	Identify() string

	// EstablishSession performs the liveness and auth handshake and
	// returns the session token replayed on all later calls.
	EstablishSession(ctx context.Context) (Session, error)

	// Open asks the remote agent to connect to host:port and returns the
	// handle scoping that flow.
	Open(ctx context.Context, sess Session, host string, port uint16) (ConnID, error)

	// Read is a single poll of whatever bytes the remote side has
	// buffered. It never waits for data: an empty result with a nil error
	// is a normal outcome, not a close signal. ErrConnClosed reports that
	// the remote side closed the flow.
	Read(ctx context.Context, sess Session, id ConnID) ([]byte, error)

	// Write pushes bytes to be sent to the target. Success means the
	// remote agent accepted them for sending, not that the target
	// received them.
	Write(ctx context.Context, sess Session, id ConnID, data []byte) error

	// Close tears down the remote flow. Callers treat failures as
	// best-effort and must not let them block local teardown.
	Close(ctx context.Context, sess Session, id ConnID) error
}
