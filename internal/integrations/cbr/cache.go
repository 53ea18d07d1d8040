package cbr

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Directory resolves currency codes to internal currency ids
type Directory interface {
	Currencies(ctx context.Context) (map[string]int64, error)
}

// CurrencyCache loads the directory at most once. Create one per import
// batch; a failed load resolves every code to 0 for the rest of the batch.
type CurrencyCache struct {
	dir Directory
	log *logrus.Logger

	once  sync.Once
	codes map[string]int64
}

// NewCurrencyCache wraps dir. A nil dir resolves everything to 0.
func NewCurrencyCache(dir Directory, log *logrus.Logger) *CurrencyCache {
	return &CurrencyCache{dir: dir, log: log}
}

// ID returns the currency id for code, or 0 when unknown
func (c *CurrencyCache) ID(ctx context.Context, code string) int64 {
	c.once.Do(func() {
		if c.dir == nil {
			return
		}
		codes, err := c.dir.Currencies(ctx)
		if err != nil {
			c.log.WithError(err).Warn("currency directory unavailable, currency ids left empty")
			return
		}
		c.codes = codes
	})
	return c.codes[strings.ToUpper(code)]
}
