package registration

import (
	"time"

	"github.com/patrickmn/go-cache"

	"donorlink.org/internal/domain"
)

const DefaultPendingTTL = 15 * time.Minute

// PendingStore holds registration records between OTP issue and verification.
// Entries live in process memory only and expire after the TTL.
type PendingStore struct {
	c *cache.Cache
}

// NewPendingStore creates a store whose entries expire after ttl.
func NewPendingStore(ttl time.Duration) *PendingStore {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &PendingStore{c: cache.New(ttl, ttl/2)}
}

func (p *PendingStore) Put(flowID string, reg domain.PendingRegistration) {
	p.c.SetDefault(flowID, reg)
}

func (p *PendingStore) Get(flowID string) (domain.PendingRegistration, bool) {
	if flowID == "" {
		return domain.PendingRegistration{}, false
	}
	v, ok := p.c.Get(flowID)
	if !ok {
		return domain.PendingRegistration{}, false
	}
	reg, ok := v.(domain.PendingRegistration)
	return reg, ok
}

func (p *PendingStore) Delete(flowID string) {
	p.c.Delete(flowID)
}

// Len reports the number of live entries.
func (p *PendingStore) Len() int {
	return p.c.ItemCount()
}
