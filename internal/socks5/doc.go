package socks5

// Package socks5 provides the small SOCKS5 handshake surface sockpivot
// exposes to local clients.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5 to
// keep negotiation, CONNECT parsing and reply writing in one place. Only the
// server flow actually used by the pivot is implemented: no-auth method
// negotiation and the CONNECT command, plus a minimal client used by tests.
