package proxy

// Package proxy implements the local SOCKS5 listener and the per-connection
// bridge that maps each accepted client onto one remote flow driven through
// the agent.
//
// The Server accepts connections and dispatches each on its own goroutine:
// SOCKS5 negotiation, CONNECT parsing, a remote open through the (retry-
// wrapped) agent, then a Bridge that pumps bytes both ways until either
// endpoint closes. One stalled or failed flow never affects the accept loop
// or any other flow.
