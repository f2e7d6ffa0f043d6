package testutil

import (
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// WebShell is an in-process stand-in for a deployed web-shell agent page. It
// implements the server side of the wire the real php/jsp/aspx shells speak
// (form-encoded actions, base64 payloads, X-Status results) and opens real
// TCP connections, so tests exercise the full client path.
type WebShell struct {
	Ack      string
	Password string

	mu    sync.Mutex
	conns map[string]net.Conn
	opens int
}

// NewWebShell returns a handler answering ack on handshake and requiring
// password (when non-empty) on every request.
func NewWebShell(ack, password string) *WebShell {
	return &WebShell{
		Ack:      ack,
		Password: password,
		conns:    make(map[string]net.Conn),
	}
}

// Opens reports how many connect actions the shell has served.
func (w *WebShell) Opens() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opens
}

func (w *WebShell) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if w.Password != "" && r.Header.Get("X-Secret") != w.Password {
		rw.WriteHeader(http.StatusForbidden)
		return
	}

	switch r.FormValue("a") {
	case "handshake":
		http.SetCookie(rw, &http.Cookie{Name: "SESSID", Value: "webshell-test"})
		_, _ = io.WriteString(rw, w.Ack)

	case "connect":
		id := r.FormValue("c")
		addr := net.JoinHostPort(r.FormValue("h"), r.FormValue("p"))
		c, err := net.DialTimeout("tcp", addr, 2*time.Second)

		w.mu.Lock()
		w.opens++
		if err == nil {
			w.conns[id] = c
		}
		w.mu.Unlock()

		if err != nil {
			rw.Header().Set("X-Status", "FAIL")
			return
		}
		rw.Header().Set("X-Status", "OK")

	case "read":
		c := w.lookup(r.FormValue("c"))
		if c == nil {
			rw.Header().Set("X-Status", "CLOSED")
			return
		}

		// A short read deadline makes this a poll, not a blocking read.
		_ = c.SetReadDeadline(time.Now().Add(5 * time.Millisecond))
		buf := make([]byte, 32*1024)
		n, err := c.Read(buf)

		status := "OK"
		if err != nil {
			var ne net.Error
			if !errors.As(err, &ne) || !ne.Timeout() {
				status = "CLOSED"
				w.drop(r.FormValue("c"))
			}
		}
		rw.Header().Set("X-Status", status)
		if n > 0 {
			_, _ = io.WriteString(rw, base64.StdEncoding.EncodeToString(buf[:n]))
		}

	case "write":
		c := w.lookup(r.FormValue("c"))
		if c == nil {
			rw.Header().Set("X-Status", "CLOSED")
			return
		}
		data, err := base64.StdEncoding.DecodeString(r.FormValue("d"))
		if err != nil {
			rw.Header().Set("X-Status", "FAIL")
			return
		}
		if _, err := c.Write(data); err != nil {
			rw.Header().Set("X-Status", "CLOSED")
			w.drop(r.FormValue("c"))
			return
		}
		rw.Header().Set("X-Status", "OK")

	case "disconnect":
		// Unknown ids still answer OK so closing twice is harmless.
		w.drop(r.FormValue("c"))
		rw.Header().Set("X-Status", "OK")

	default:
		rw.Header().Set("X-Status", "FAIL")
	}
}

func (w *WebShell) lookup(id string) net.Conn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conns[id]
}

func (w *WebShell) drop(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.conns[id]; ok {
		_ = c.Close()
		delete(w.conns, id)
	}
}
