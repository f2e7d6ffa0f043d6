package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// flakyAgent fails a fixed number of calls before succeeding, counting every
// attempt per operation.
type flakyAgent struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    map[string]int
}

func newFlaky(failures int, err error) *flakyAgent {
	if err == nil {
		err = &Error{Kind: KindUnreachable, Op: "test"}
	}
	return &flakyAgent{failures: failures, err: err, calls: make(map[string]int)}
}

func (f *flakyAgent) attempt(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	return nil
}

func (f *flakyAgent) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *flakyAgent) Identify() string { return "flaky" }

func (f *flakyAgent) EstablishSession(context.Context) (Session, error) {
	if err := f.attempt("establish"); err != nil {
		return "", err
	}
	return "sess", nil
}

func (f *flakyAgent) Open(context.Context, Session, string, uint16) (ConnID, error) {
	if err := f.attempt("open"); err != nil {
		return "", err
	}
	return "conn-1", nil
}

func (f *flakyAgent) Read(context.Context, Session, ConnID) ([]byte, error) {
	if err := f.attempt("read"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *flakyAgent) Write(context.Context, Session, ConnID, []byte) error {
	return f.attempt("write")
}

func (f *flakyAgent) Close(context.Context, Session, ConnID) error {
	return f.attempt("close")
}

func TestRetryingSucceedsAfterFailures(t *testing.T) {
	interval := 2 * time.Millisecond
	flaky := newFlaky(2, nil)
	r := &Retrying{Agent: flaky, Tries: 3, Interval: interval}

	start := time.Now()
	sess, err := r.EstablishSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, Session("sess"), sess)
	require.Equal(t, 3, flaky.callCount("establish"))

	// Two failed attempts mean exactly two interval sleeps.
	require.GreaterOrEqual(t, time.Since(start), 2*interval)
}

func TestRetryingExhaustsTriesAndKeepsLastError(t *testing.T) {
	underlying := &Error{Kind: KindConnectFailed, Op: "open"}
	flaky := newFlaky(10, underlying)
	r := &Retrying{Agent: flaky, Tries: 3, Interval: time.Millisecond}

	_, err := r.Open(context.Background(), "sess", "10.0.0.1", 443)
	require.Error(t, err)
	require.Equal(t, KindConnectFailed, KindOf(err))
	require.Equal(t, 3, flaky.callCount("open"))
}

func TestRetryingPassesReadThrough(t *testing.T) {
	flaky := newFlaky(10, nil)
	r := &Retrying{Agent: flaky, Tries: 5, Interval: time.Millisecond}

	_, err := r.Read(context.Background(), "sess", "conn-1")
	require.Error(t, err)
	require.Equal(t, 1, flaky.callCount("read"))
}

func TestRetryingDoesNotRetryRemoteClosed(t *testing.T) {
	flaky := newFlaky(10, ErrConnClosed)
	r := &Retrying{Agent: flaky, Tries: 5, Interval: time.Millisecond}

	err := r.Write(context.Background(), "sess", "conn-1", []byte("x"))
	require.ErrorIs(t, err, ErrConnClosed)
	require.Equal(t, 1, flaky.callCount("write"))
}

func TestRetryingStopsOnContextCancel(t *testing.T) {
	flaky := newFlaky(100, nil)
	r := &Retrying{Agent: flaky, Tries: 100, Interval: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Open(ctx, "sess", "10.0.0.1", 443)
	require.Error(t, err)
	require.Equal(t, 1, flaky.callCount("open"))
}
