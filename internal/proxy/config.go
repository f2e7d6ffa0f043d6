package proxy

import (
	"net"
	"time"

	"github.com/sockpivot/sockpivot/internal/agent"
)

// Config carries the settings and shared agent state for the SOCKS5 server.
// Agent and Session are shared read-only by every connection; per-flow state
// lives in each Bridge.
type Config struct {
	// NegotiationTimeout bounds the SOCKS5 handshake and remote open for
	// one client, so a stalled client cannot hold a goroutine forever.
	NegotiationTimeout time.Duration

	// PollingInterval is the delay between polls for buffered remote
	// bytes. It is the single knob trading delivery latency against
	// agent and network load.
	PollingInterval time.Duration

	KeepAlive net.KeepAliveConfig

	Agent   agent.Agent
	Session agent.Session
}
