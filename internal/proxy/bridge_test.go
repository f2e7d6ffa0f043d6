package proxy

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sockpivot/sockpivot/internal/agent"
)

// memAgent is an in-memory Agent: polls drain queued inbound chunks one per
// call, writes accumulate, and a closed flag makes the remote side report
// the flow closed once the queue is drained.
type memAgent struct {
	mu         sync.Mutex
	inbound    [][]byte
	closed     bool
	readErr    error
	got        bytes.Buffer
	closeCalls int
}

func (m *memAgent) push(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound = append(m.inbound, data)
}

func (m *memAgent) setClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *memAgent) written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.got.Bytes()...)
}

func (m *memAgent) closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

func (m *memAgent) Identify() string { return "mem" }

func (m *memAgent) EstablishSession(context.Context) (agent.Session, error) {
	return "sess", nil
}

func (m *memAgent) Open(context.Context, agent.Session, string, uint16) (agent.ConnID, error) {
	return "conn-1", nil
}

func (m *memAgent) Read(context.Context, agent.Session, agent.ConnID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	if len(m.inbound) > 0 {
		data := m.inbound[0]
		m.inbound = m.inbound[1:]
		if len(m.inbound) == 0 && m.closed {
			return data, agent.ErrConnClosed
		}
		return data, nil
	}
	if m.closed {
		return nil, agent.ErrConnClosed
	}
	return nil, nil
}

func (m *memAgent) Write(_ context.Context, _ agent.Session, _ agent.ConnID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got.Write(data)
	return nil
}

func (m *memAgent) Close(context.Context, agent.Session, agent.ConnID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return nil
}

func startBridge(t *testing.T, m *memAgent) (net.Conn, *Bridge, <-chan error) {
	t.Helper()

	local, client := net.Pipe()
	b := NewBridge(m, "sess", "conn-1", local, time.Millisecond, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	t.Cleanup(func() { _ = client.Close() })
	return client, b, done
}

func TestBridgeDeliversRemoteBytesInOrder(t *testing.T) {
	m := &memAgent{inbound: [][]byte{[]byte("he"), []byte("llo"), []byte(" world")}, closed: true}
	client, b, done := startBridge(t, m)

	got, err := io.ReadAll(client)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), got)

	require.NoError(t, <-done)
	require.Equal(t, StateClosed, b.State())
	require.Equal(t, 1, m.closes())
}

func TestBridgeForwardsLocalBytesInOrder(t *testing.T) {
	m := &memAgent{}
	client, b, done := startBridge(t, m)

	_, err := client.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = client.Write([]byte("def"))
	require.NoError(t, err)
	require.NoError(t, client.Close())

	require.NoError(t, <-done)
	require.Equal(t, []byte("abcdef"), m.written())
	require.Equal(t, StateClosed, b.State())
	require.Equal(t, 1, m.closes())
}

func TestBridgeEmptyPollsAreNotClose(t *testing.T) {
	m := &memAgent{}
	client, _, done := startBridge(t, m)

	// Dozens of empty polls happen here; the bridge must stay up.
	time.Sleep(30 * time.Millisecond)
	m.push([]byte("late"))

	buf := make([]byte, 4)
	_, err := io.ReadFull(client, buf)
	require.NoError(t, err)
	require.Equal(t, []byte("late"), buf)

	m.setClosed()
	_, err = client.Read(buf)
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, <-done)
}

func TestBridgePollFailureFailsBridge(t *testing.T) {
	m := &memAgent{readErr: &agent.Error{Kind: agent.KindUnexpectedResponse, Op: "read"}}
	_, b, done := startBridge(t, m)

	err := <-done
	require.Error(t, err)
	require.Equal(t, agent.KindUnexpectedResponse, agent.KindOf(err))
	require.Equal(t, StateFailed, b.State())

	// Teardown still releases the remote handle.
	require.Equal(t, 1, m.closes())
}

func TestBridgeShutdownOnContextCancel(t *testing.T) {
	m := &memAgent{}
	local, client := net.Pipe()
	defer client.Close()

	b := NewBridge(m, "sess", "conn-1", local, time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	require.Equal(t, StateClosed, b.State())
	require.Equal(t, 1, m.closes())

	_, err := client.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
}
