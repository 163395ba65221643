package oauth

import (
	"context"

	"github.com/atxp-dev/atxp-go/store"
)

// registrationCall is the shared promise backing a single in-flight
// dynamic-client-registration request for one issuer. Concurrent callers
// for the same issuer block on done instead of each racing a POST
// /register.
type registrationCall struct {
	done chan struct{}
	creds *store.ClientCredentials
	err   error
}

// registerOnce runs fn at most once per issuer concurrently; any caller that
// arrives while a registration for the same issuer is in flight waits for
// that result instead of issuing its own request.
func (c *Client) registerOnce(ctx context.Context, issuer string, fn func(context.Context) (*store.ClientCredentials, error)) (*store.ClientCredentials, error) {
	c.regMu.Lock()
	if call, ok := c.regLocks[issuer]; ok {
		c.regMu.Unlock()
		return waitForRegistration(ctx, call)
	}

	call := &registrationCall{done: make(chan struct{})}
	c.regLocks[issuer] = call
	c.regMu.Unlock()

	call.creds, call.err = fn(ctx)
	close(call.done)

	c.regMu.Lock()
	delete(c.regLocks, issuer)
	c.regMu.Unlock()

	return call.creds, call.err
}

func waitForRegistration(ctx context.Context, call *registrationCall) (*store.ClientCredentials, error) {
	select {
	case <-call.done:
		return call.creds, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
