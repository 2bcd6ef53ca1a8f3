package refresh_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-storefront-auth/token"
	"github.com/jrsteele09/go-storefront-auth/token/refresh"
	"github.com/stretchr/testify/require"
)

func TestCoordinatorCollapsesConcurrentRefreshes(t *testing.T) {
	c := refresh.NewCoordinator()
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func(ctx context.Context) (*token.Bundle, error) {
		calls.Add(1)
		<-release
		return &token.Bundle{AccessToken: "fresh"}, nil
	}

	var wg sync.WaitGroup
	results := make([]*token.Bundle, 5)
	errs := make([]error, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Do(context.Background(), "seller", fn)
		}(i)
	}

	// Give the goroutines time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for i := range results {
		require.NoError(t, errs[i])
		require.Equal(t, "fresh", results[i].AccessToken)
	}
}

func TestCoordinatorPropagatesError(t *testing.T) {
	c := refresh.NewCoordinator()
	boom := errors.New("boom")

	_, err := c.Do(context.Background(), "admin", func(ctx context.Context) (*token.Bundle, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestCoordinatorStopsWaitingOnCancel(t *testing.T) {
	c := refresh.NewCoordinator()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	block := make(chan struct{})
	defer close(block)

	_, err := c.Do(ctx, "main", func(ctx context.Context) (*token.Bundle, error) {
		<-block
		return nil, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
