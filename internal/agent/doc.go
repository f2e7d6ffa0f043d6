package agent

// Package agent defines the capability contract spoken by remote web-shell
// agents and the HTTP wire used to drive them.
//
// A deployed agent page (php, jsp or aspx flavor) can open a TCP connection
// to a target, push bytes into it, report whatever bytes it has buffered, and
// tear it down — all through discrete request/response calls. The Agent
// interface captures exactly that surface; everything stream-like is
// synthesized above it by internal/proxy.
//
// Retrying wraps any Agent with bounded fixed-interval retry to absorb the
// transient failures typical of load-balanced deployments, where consecutive
// requests can land on replicas that have not yet seen the session.
