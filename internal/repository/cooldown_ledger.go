package repository

import (
	"context"
	"errors"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
	"SignalGate/pkg/cache"
)

// CacheCooldownLedger shares cooldowns and emission claims between replicas through a cache.
// Keys live under cooldown:<symbol> and emit:<symbol>.
type CacheCooldownLedger struct {
	cache cache.Service
	now   func() time.Time
}

// NewCacheCooldownLedger creates a ledger over c. now may be nil for the wall clock.
func NewCacheCooldownLedger(c cache.Service, now func() time.Time) *CacheCooldownLedger {
	if now == nil {
		now = time.Now
	}
	return &CacheCooldownLedger{cache: c, now: now}
}

// Claim takes the emission lock of symbol for ttl. False means another replica holds it.
func (l *CacheCooldownLedger) Claim(ctx context.Context, symbol string, ttl time.Duration) (bool, error) {
	return l.cache.TryLock(ctx, cache.GenerateKey("emit", symbol), ttl)
}

// Save stores the entry until it expires. Expired entries are not written.
func (l *CacheCooldownLedger) Save(ctx context.Context, e models.CooldownEntry) error {
	ttl := e.ExpiresAt.Sub(l.now())
	if ttl <= 0 {
		return nil
	}
	return l.cache.Set(ctx, cache.GenerateKey("cooldown", e.Symbol), e, ttl)
}

// Load returns the stored entry of symbol, if any.
func (l *CacheCooldownLedger) Load(ctx context.Context, symbol string) (models.CooldownEntry, bool, error) {
	var e models.CooldownEntry
	err := l.cache.Get(ctx, cache.GenerateKey("cooldown", symbol), &e)
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
		return models.CooldownEntry{}, false, nil
	case err != nil:
		return models.CooldownEntry{}, false, err
	}
	return e, true, nil
}

// Delete removes the cooldown and emission claim of symbol.
func (l *CacheCooldownLedger) Delete(ctx context.Context, symbol string) error {
	return l.cache.Delete(ctx, cache.GenerateKey("cooldown", symbol), cache.GenerateKey("emit", symbol))
}

var (
	_ repository.EmissionLock   = (*CacheCooldownLedger)(nil)
	_ repository.CooldownMirror = (*CacheCooldownLedger)(nil)
)
