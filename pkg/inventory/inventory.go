// Package inventory holds the TTL'd cache of accounts, organizational
// units and regions the Scope Expander resolves targets against. The
// actual inventory source (an AWS Organizations-style API, a static
// file, whatever the deployment environment provides) is an out-of-
// scope collaborator reached only through the Source interface.
package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian-iac/deployer/pkg/deploy"
)

// Account is a single managed account in the inventory.
type Account struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	ParentOUs      []string          `json:"parent_ous"`
	Tags           map[string]string `json:"tags"`
	EnabledRegions []string          `json:"enabled_regions"`
	Active         bool              `json:"active"`
}

// OrganizationalUnit groups accounts.
type OrganizationalUnit struct {
	ID   string            `json:"id"`
	Name string            `json:"name"`
	Tags map[string]string `json:"tags"`
}

// Snapshot is the full inventory at a point in time, the in-memory
// shape of the `orga.json` blob.
type Snapshot struct {
	Accounts     []Account            `json:"accounts"`
	OUs          []OrganizationalUnit `json:"ous"`
	GeneratedAt  time.Time            `json:"generated_at"`
}

// Source fetches a fresh Snapshot from whatever system of record the
// deployment environment uses. Out of scope: the core only consumes
// this interface.
type Source interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}

// Cache wraps a Source with a TTL so repeated lookups within a run (or
// across runs, if backed by a persisted blob) don't refetch on every
// call. The cache record's lifecycle is independent of any single run;
// it is refreshed by age, not by run boundaries.
type Cache struct {
	mu       sync.RWMutex
	source   Source
	ttl      time.Duration
	snapshot *Snapshot
	fetchedAt time.Time
	log      zerolog.Logger
}

// NewCache constructs a Cache with the given TTL and logger.
func NewCache(source Source, ttl time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		source: source,
		ttl:    ttl,
		log:    log.With().Str("component", "inventory").Logger(),
	}
}

// Get returns the current snapshot, refreshing it if the TTL has
// elapsed or forceRefresh is set. Returns deploy.CodeInventoryUnavailable
// if the source cannot be reached and no cached snapshot is usable.
func (c *Cache) Get(ctx context.Context, forceRefresh bool) (*Snapshot, error) {
	c.mu.RLock()
	stale := c.snapshot == nil || forceRefresh || time.Since(c.fetchedAt) > c.ttl
	current := c.snapshot
	c.mu.RUnlock()

	if !stale {
		return current, nil
	}

	snap, err := c.source.Fetch(ctx)
	if err != nil {
		c.mu.RLock()
		fallback := c.snapshot
		c.mu.RUnlock()
		if fallback != nil {
			c.log.Warn().Err(err).Msg("inventory refresh failed, serving stale cache")
			return fallback, nil
		}
		return nil, deploy.NewInventoryUnavailableError("no valid inventory cache and source is unreachable", err)
	}

	c.mu.Lock()
	c.snapshot = snap
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	c.log.Debug().Int("accounts", len(snap.Accounts)).Int("ous", len(snap.OUs)).Msg("inventory refreshed")
	return snap, nil
}

// Account looks up a single account by ID in the current cached
// snapshot without forcing a refresh.
func (c *Cache) Account(id string) (Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return Account{}, false
	}
	for _, a := range c.snapshot.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}

// OUsByAccount returns every OU ID the account is (transitively)
// declared under, in the order they appear on the account record.
func (c *Cache) OUsByAccount(accountID string) []string {
	a, ok := c.Account(accountID)
	if !ok {
		return nil
	}
	return a.ParentOUs
}

// AccountTags returns an account's tags, or nil if the account is
// unknown to the current cache.
func (c *Cache) AccountTags(accountID string) map[string]string {
	a, ok := c.Account(accountID)
	if !ok {
		return nil
	}
	return a.Tags
}

// String implements fmt.Stringer for diagnostic logging.
func (s *Snapshot) String() string {
	return fmt.Sprintf("inventory(accounts=%d, ous=%d, generated_at=%s)", len(s.Accounts), len(s.OUs), s.GeneratedAt)
}
