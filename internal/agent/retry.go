package agent

import (
	"context"
	"errors"
	"time"
)

// Retrying wraps an Agent with bounded fixed-interval retry on every call
// except Read. Load-balanced deployments can route consecutive requests to
// replicas with inconsistent state, so a single failure is not conclusive.
// Read is passed through untouched: an empty poll already is a success, and
// repeating a failed one only adds latency before the bridge tears down.
type Retrying struct {
	Agent

	Tries    int
	Interval time.Duration
}

// NewRetrying wraps inner using the retry settings from opts.
func NewRetrying(inner Agent, opts Options) *Retrying {
	return &Retrying{Agent: inner, Tries: opts.RequestTries, Interval: opts.RetryInterval}
}

func (r *Retrying) EstablishSession(ctx context.Context) (Session, error) {
	var sess Session
	err := r.retry(ctx, func() error {
		var err error
		sess, err = r.Agent.EstablishSession(ctx)
		return err
	})
	return sess, err
}

func (r *Retrying) Open(ctx context.Context, sess Session, host string, port uint16) (ConnID, error) {
	var id ConnID
	err := r.retry(ctx, func() error {
		var err error
		id, err = r.Agent.Open(ctx, sess, host, port)
		return err
	})
	return id, err
}

func (r *Retrying) Write(ctx context.Context, sess Session, id ConnID, data []byte) error {
	return r.retry(ctx, func() error {
		return r.Agent.Write(ctx, sess, id, data)
	})
}

func (r *Retrying) Close(ctx context.Context, sess Session, id ConnID) error {
	return r.retry(ctx, func() error {
		return r.Agent.Close(ctx, sess, id)
	})
}

// retry runs call up to r.Tries times, sleeping r.Interval between attempts,
// and returns the last error once attempts are exhausted. A remote-closed
// result is final and never retried.
func (r *Retrying) retry(ctx context.Context, call func() error) error {
	tries := r.Tries
	if tries < 1 {
		tries = 1
	}

	var err error
	for i := 0; i < tries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(r.Interval):
			}
		}

		err = call()
		if err == nil || errors.Is(err, ErrConnClosed) {
			return err
		}
	}
	return err
}
