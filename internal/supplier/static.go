package supplier

import (
	"context"
	"sync"

	"cloud.google.com/go/civil"

	"spxopt/internal/models"
)

// Static is an in-memory chain source. It serves fixtures and replays, and
// does not implement ContractQuoter, so lookups go through WithContractLookup.
type Static struct {
	mu     sync.RWMutex
	chains map[civil.Date][]models.Quote
	name   string
}

// NewStatic builds a Static source from quotes, grouped by expiration.
func NewStatic(name string, quotes ...models.Quote) *Static {
	s := &Static{chains: make(map[civil.Date][]models.Quote), name: name}
	s.Put(quotes...)
	return s
}

// Name returns the source name.
func (s *Static) Name() string {
	return s.name
}

// Put adds quotes to the source.
func (s *Static) Put(quotes ...models.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range quotes {
		s.chains[q.Expiration] = append(s.chains[q.Expiration], Sanitize(q))
	}
}

// Expirations returns the stored expirations in ascending order.
func (s *Static) Expirations(ctx context.Context) ([]civil.Date, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	dates := make([]civil.Date, 0, len(s.chains))
	for d := range s.chains {
		dates = append(dates, d)
	}
	return SortDates(dates), nil
}

// Chain returns a copy of the quotes stored for expiration.
func (s *Static) Chain(ctx context.Context, expiration civil.Date) ([]models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[expiration]
	out := make([]models.Quote, len(chain))
	copy(out, chain)
	return out, nil
}
