package oracle

import (
	"errors"
	"math/big"
	"sync"
)

// ErrUnavailable is returned when no price can be read for an asset.
// Callers must propagate it: substituting a stale or zero price is a
// direct solvency risk.
var ErrUnavailable = errors.New("oracle: price unavailable")

// PriceOracle reads the latest unit price for one asset, as an integer
// scaled to 8 decimal places. Freshness is the oracle's responsibility.
type PriceOracle interface {
	LatestPrice() (*big.Int, error)
}

// StaticOracle is a settable single-asset oracle. It backs one entry of
// the price Cache and doubles as the test oracle.
type StaticOracle struct {
	mu    sync.RWMutex
	price *big.Int
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{}
}

// NewStaticOracleWithPrice returns an oracle pre-seeded with a price
// scaled to 8 decimals.
func NewStaticOracleWithPrice(price int64) *StaticOracle {
	return &StaticOracle{price: big.NewInt(price)}
}

// SetPrice replaces the current price (8-decimal scaled).
func (o *StaticOracle) SetPrice(price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = new(big.Int).Set(price)
}

// Clear drops the price, making subsequent reads fail with ErrUnavailable.
func (o *StaticOracle) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = nil
}

func (o *StaticOracle) LatestPrice() (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.price == nil {
		return nil, ErrUnavailable
	}
	return new(big.Int).Set(o.price), nil
}

// Cache holds the latest price per feed name. The NATS price-feed
// subscriber writes into it; each registered asset reads through a
// Feed view.
type Cache struct {
	mu     sync.RWMutex
	prices map[string]*big.Int
}

func NewCache() *Cache {
	return &Cache{prices: make(map[string]*big.Int)}
}

// Set stores the latest 8-decimal price for a feed.
func (c *Cache) Set(feed string, price *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[feed] = new(big.Int).Set(price)
}

// Get returns the latest price for a feed, or ErrUnavailable.
func (c *Cache) Get(feed string) (*big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[feed]
	if !ok {
		return nil, ErrUnavailable
	}
	return new(big.Int).Set(p), nil
}

// Feed returns a PriceOracle view over one feed of the cache.
func (c *Cache) Feed(name string) PriceOracle {
	return &cacheFeed{cache: c, name: name}
}

type cacheFeed struct {
	cache *Cache
	name  string
}

func (f *cacheFeed) LatestPrice() (*big.Int, error) {
	return f.cache.Get(f.name)
}
