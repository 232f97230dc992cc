package monitor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ItemEnsurer is the slice of the metric
// backend the provisioner needs: confirm or
// create one item on one host.
type ItemEnsurer interface {
	EnsureItem(ctx context.Context, host, key, name string) error
}

type itemRef struct {
	host string
	key  string
}

// Provisioner ensures a backend item exists
// for a series before its sample is
// accepted. Results are cached with a TTL so
// an out-of-band deletion on the backend is
// recovered within two cycles, and creation
// is single-flighted per (host, key) so
// overlapping passes never issue duplicate
// creation requests.
type Provisioner struct {
	backend ItemEnsurer
	ttl     time.Duration

	mu    sync.Mutex
	cache map[itemRef]time.Time

	group singleflight.Group
}

// NewProvisioner takes an ItemEnsurer and a
// cache TTL and returns a *Provisioner. The
// TTL should be one cycle longer than the
// polling interval.
func NewProvisioner(backend ItemEnsurer, ttl time.Duration) *Provisioner {
	return &Provisioner{
		backend: backend,
		ttl:     ttl,
		cache:   make(map[itemRef]time.Time),
	}
}

// Ensure confirms that the (host, key) item
// exists, creating it through the backend on
// a cache miss. Concurrent calls for the
// same item share one backend request; the
// losers wait for the winner's result.
func (p *Provisioner) Ensure(ctx context.Context, host, key, name string) error {
	ref := itemRef{host: host, key: key}

	p.mu.Lock()
	at, ok := p.cache[ref]
	p.mu.Unlock()

	if ok && time.Since(at) < p.ttl {
		return nil
	}

	_, err, _ := p.group.Do(host+"\x00"+key, func() (interface{}, error) {
		if err := p.backend.EnsureItem(ctx, host, key, name); err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.cache[ref] = time.Now()
		p.mu.Unlock()

		return nil, nil
	})

	if err != nil {
		return &ProvisionFailed{
			Host:   host,
			Key:    key,
			Reason: err.Error(),
		}
	}

	return nil
}
