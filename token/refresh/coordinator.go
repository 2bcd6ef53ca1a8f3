package refresh

import (
	"context"

	"github.com/jrsteele09/go-storefront-auth/token"
	"golang.org/x/sync/singleflight"
)

// RefreshFunc exchanges the current refresh token for a new bundle.
type RefreshFunc func(ctx context.Context) (*token.Bundle, error)

// Coordinator collapses concurrent refreshes of the same session into one
// backend call. Refresh tokens rotate on use, so two parallel refreshes with the
// same token would leave one caller holding a revoked token.
type Coordinator struct {
	group singleflight.Group
}

func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Do runs fn for key unless a refresh for key is already in flight, in which
// case it waits for that one. Waiting stops early when ctx is done; the shared
// refresh keeps running for the other callers.
func (c *Coordinator) Do(ctx context.Context, key string, fn RefreshFunc) (*token.Bundle, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		// One caller's cancellation must not fail the shared refresh.
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		b, _ := res.Val.(*token.Bundle)
		return b, nil
	}
}

// Forget drops any in-flight result for key so the next Do starts fresh.
func (c *Coordinator) Forget(key string) {
	c.group.Forget(key)
}
