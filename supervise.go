package chatter

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v5"
)

// Supervise runs sessions until one ends cleanly. Each attempt gets a fresh
// client from newClient, which should register callbacks and joins on it.
// Sessions that end with a transport error are retried with exponential
// backoff, reset whenever a session reaches ready. Supervise returns nil once
// a session is closed with Close, and ctx.Err() when ctx ends.
//
// opts are applied after the defaults (exponential backoff, no elapsed-time
// limit), so callers can override either.
func Supervise(ctx context.Context, newClient func() *Client, opts ...backoff.RetryOption) error {
	b := backoff.NewExponentialBackOff()
	opts = append([]backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
	}, opts...)

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		c := newClient()
		c.OnReady(b.Reset)
		err := c.Start(ctx)
		switch {
		case err == nil:
			return struct{}{}, nil
		case ctx.Err() != nil:
			return struct{}{}, backoff.Permanent(ctx.Err())
		case errors.Is(err, ErrAlreadyStarted), errors.Is(err, ErrClosed):
			return struct{}{}, backoff.Permanent(err)
		}
		c.log.Warn("session failed, retrying", "error", err)
		return struct{}{}, err
	}, opts...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
