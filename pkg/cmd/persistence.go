package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/actiond/pkg/persistence"
	"github.com/dukex/actiond/pkg/persistence/memory"
	"github.com/dukex/actiond/pkg/persistence/sqlbase"
	"github.com/dukex/actiond/pkg/persistence/sqlstore"
)

// NewPersistence opens the node store named by databaseURL.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.NodeService, error) {
	provider, rest := parsePersistenceProvider(databaseURL)

	switch provider {
	case "memory":
		return memory.NewPersistence(logger), nil
	case "sqlite":
		if rest == "" {
			return nil, fmt.Errorf("sqlite database path is required: %s", databaseURL)
		}

		return sqlstore.NewPersistence(ctx, logger, sqlbase.SQLite, rest)
	case "postgres", "postgresql":
		return sqlstore.NewPersistence(ctx, logger, sqlbase.Postgres, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported persistence provider: %s", provider)
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "", databaseURL
	}

	return provider, rest
}
