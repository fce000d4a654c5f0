package config

import (
	"context"
	"fmt"

	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
	"github.com/cognicore/tagstream/pkg/tagstream/store/memstore"
	"github.com/cognicore/tagstream/pkg/tagstream/store/postgres"
	"github.com/cognicore/tagstream/pkg/tagstream/store/sqlite"
)

// OpenStore opens the configured store driver.
func (c StoreConfig) OpenStore(ctx context.Context) (store.Store, error) {
	switch c.Driver {
	case DriverSQLite:
		return sqlite.OpenSQLite(ctx, c.Path)
	case DriverPostgres:
		return postgres.Open(ctx, c.DSN, postgres.Options{
			MaxConns:    c.MaxConns,
			MaxLifetime: c.MaxLifetime,
		})
	case DriverMemory:
		return memstore.New(), nil
	}
	return nil, fmt.Errorf("store driver %q: %w", c.Driver, internalerr.ErrInvalidConfig)
}
