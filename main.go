// Command sockpivot exposes a local SOCKS5 endpoint and forwards each client
// connection through a request/response web-shell agent, turning a poll-only
// command endpoint into a full-duplex TCP pivot.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/sockpivot/sockpivot/internal/agent"
	"github.com/sockpivot/sockpivot/internal/proxy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listen    = pflag.StringP("listen", "l", "127.0.0.1:1080", "SOCKS5 listen address")
		agentURL  = pflag.StringP("url", "u", "", "URL of the deployed agent page (required)")
		agentType = pflag.StringP("type", "t", "", "Agent type: php | jsp | aspx. Inferred from the URL suffix when empty.")
		password  = pflag.StringP("password", "p", "", "Shared secret sent with every agent request")
		headers   = pflag.StringArray("header", nil, "Extra header sent with every agent request, as 'Name: value'. Repeatable.")
		proxyURL  = pflag.String("proxy", "", "Outbound proxy for reaching the agent: http://host:port | https://host:port | socks5://host:port")

		ackMessage    = pflag.String("ack-message", "Server Error 500 (Internal Error)", "Marker that must appear in the handshake response of a live agent")
		pollInterval  = pflag.Duration("polling-interval", 100*time.Millisecond, "Delay between polls for buffered remote bytes")
		requestTries  = pflag.Int("request-tries", 50, "Attempts per agent request before giving up")
		retryInterval = pflag.Duration("retry-interval", 100*time.Millisecond, "Delay between attempts of a failed agent request")

		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for SOCKS5 handshake and remote open")
		tcpKeepAlive       = pflag.Bool("tcp-keepalive", true, "Enable TCP keepalive on local client connections")
		debugListen        = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
		verbose            = pflag.BoolP("verbose", "v", false, "Enable per-connection debug logging")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if *agentURL == "" {
		return errors.New("--url is required")
	}

	hdrs, err := parseHeaders(*headers)
	if err != nil {
		return fmt.Errorf("invalid --header: %w", err)
	}

	opts := agent.Options{
		URL:           *agentURL,
		AckMessage:    *ackMessage,
		Password:      *password,
		Headers:       hdrs,
		ProxyURL:      *proxyURL,
		RequestTries:  *requestTries,
		RetryInterval: *retryInterval,
	}

	ag, err := agent.New(*agentType, opts)
	if err != nil {
		return err
	}
	rag := agent.NewRetrying(ag, opts)

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// No local listener starts without a valid session.
	sess, err := rag.EstablishSession(ctx)
	if err != nil {
		return fmt.Errorf("establish session: %w", err)
	}
	log.Info().Str("type", ag.Identify()).Str("url", *agentURL).Msg("agent session established")

	if *debugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{}
		debugLn, err := lc.Listen(ctx, "tcp", *debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Info().Str("addr", *debugListen).Msg("debug listening")
	}

	cfg := proxy.Config{
		NegotiationTimeout: *negotiationTimeout,
		PollingInterval:    *pollInterval,
		KeepAlive:          net.KeepAliveConfig{Enable: *tcpKeepAlive},
		Agent:              rag,
		Session:            sess,
	}

	ln, err := proxy.ListenTCP("tcp", *listen, cfg.KeepAlive)
	if err != nil {
		return fmt.Errorf("socks5 listen: %w", err)
	}

	srv := proxy.NewServer(ctx, cfg)
	context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil {
			return fmt.Errorf("socks5 serve: %w", err)
		}
		return nil
	})
	log.Info().Str("addr", ln.Addr().String()).Msg("socks5 listening")

	err = g.Wait()

	// Give in-flight bridges a chance to finish their teardown.
	srv.Wait()

	log.Info().Msg("shutting down")
	return err
}

// parseHeaders converts repeated 'Name: value' flags into an http.Header.
func parseHeaders(raw []string) (http.Header, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	h := make(http.Header, len(raw))
	for _, entry := range raw {
		name, value, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("expected 'Name: value', got %q", entry)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}
