package streamer

import (
	"context"
	"sync"
	"time"

	"github.com/NotVinay/tastystream/tastyworks"
)

// Session is what a streamer needs from an authenticated API session.
// *tastyworks.Session implements it.
type Session interface {
	Validate(ctx context.Context) error
	QuoteStreamerTokens(ctx context.Context) (*tastyworks.StreamerData, error)
}

// endpointCache resolves the feed endpoint and its token lazily and reuses
// them for tastyworks.Freshness.
type endpointCache struct {
	session Session
	now     func() time.Time

	mu        sync.Mutex
	data      *tastyworks.StreamerData
	fetchedAt time.Time
}

func newEndpointCache(session Session) *endpointCache {
	return &endpointCache{session: session, now: time.Now}
}

// get returns the cached descriptor, fetching a new one when it is absent or
// stale. The session is validated first so an expired session surfaces as
// tastyworks.ErrSessionInvalid.
func (e *endpointCache) get(ctx context.Context) (*tastyworks.StreamerData, error) {
	if err := e.session.Validate(ctx); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.data != nil && e.now().Sub(e.fetchedAt) < tastyworks.Freshness {
		return e.data, nil
	}
	data, err := e.session.QuoteStreamerTokens(ctx)
	if err != nil {
		return nil, err
	}
	e.data = data
	e.fetchedAt = e.now()
	return data, nil
}
