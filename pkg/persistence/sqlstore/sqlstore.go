// Package sqlstore provides the SQL node store, on PostgreSQL or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/persistence"
	"github.com/dukex/actiond/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Persistence implements persistence.NodeService on a SQL database.
type Persistence struct {
	db      *sql.DB
	dialect sqlbase.Dialect
	logger  *slog.Logger
	now     func() time.Time
}

// NewPersistence opens the database and runs the migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, dialect sqlbase.Dialect, dsn string) (*Persistence, error) {
	database, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect.Name(), err)
	}

	if dialect == sqlbase.SQLite {
		// one connection keeps a :memory: database shared and serializes writers
		database.SetMaxOpenConns(1)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger = logger.With("module", "sql_persistence", "dialect", dialect.Name())

	migrationManager := sqlbase.NewMigrationManager(logger, database, dialect, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:      database,
		dialect: dialect,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) withTx(ctx context.Context, fn func(q queryer) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (p *Persistence) exists(ctx context.Context, q queryer, ref models.NodeRef) (bool, error) {
	var one int

	err := q.QueryRowContext(ctx, p.dialect.Rebind("SELECT 1 FROM nodes WHERE store = ? AND id = ?"), ref.Store, ref.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to query node: %w", err)
	}

	return true, nil
}

func (p *Persistence) Exists(ctx context.Context, ref models.NodeRef) (bool, error) {
	return p.exists(ctx, p.db, ref)
}

func (p *Persistence) CreateNode(ctx context.Context, parent models.NodeRef, assocType, nodeType string, props map[string]any) (models.NodeRef, error) {
	ref := persistence.NewNodeRef(parent, props)

	properties, err := persistence.EncodeProperties(persistence.CreatedProperties(ctx, ref, props, p.now()))
	if err != nil {
		return models.NodeRef{}, persistence.NewNodeError("CreateNode", ref, err)
	}

	err = p.withTx(ctx, func(q queryer) error {
		taken, err := p.exists(ctx, q, ref)
		if err != nil {
			return err
		}

		if taken {
			return persistence.ErrNodeAlreadyExists
		}

		position := int64(0)

		if !parent.IsZero() {
			ok, err := p.exists(ctx, q, parent)
			if err != nil {
				return err
			}

			if !ok {
				return persistence.NewNodeError("CreateNode", parent, persistence.ErrNodeNotFound)
			}

			err = q.QueryRowContext(ctx,
				p.dialect.Rebind("SELECT COALESCE(MAX(position), 0) + 1 FROM nodes WHERE parent_store = ? AND parent_id = ?"),
				parent.Store, parent.ID,
			).Scan(&position)
			if err != nil {
				return fmt.Errorf("failed to query child position: %w", err)
			}
		}

		_, err = q.ExecContext(ctx, p.dialect.Rebind(`
			INSERT INTO nodes (store, id, node_type, parent_store, parent_id, assoc_type, position, properties, aspects)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), ref.Store, ref.ID, nodeType, parent.Store, parent.ID, assocType, position, string(properties), "[]")
		if err != nil {
			return fmt.Errorf("failed to insert node: %w", err)
		}

		return nil
	})
	if err != nil {
		return models.NodeRef{}, persistence.NewNodeError("CreateNode", ref, err)
	}

	return ref, nil
}

func (p *Persistence) NodeType(ctx context.Context, ref models.NodeRef) (string, error) {
	var nodeType string

	err := p.db.QueryRowContext(ctx, p.dialect.Rebind("SELECT node_type FROM nodes WHERE store = ? AND id = ?"), ref.Store, ref.ID).Scan(&nodeType)
	if err != nil {
		return "", p.nodeError("NodeType", ref, err)
	}

	return nodeType, nil
}

func (p *Persistence) nodeError(op string, ref models.NodeRef, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewNodeError(op, ref, persistence.ErrNodeNotFound)
	}

	return persistence.NewNodeError(op, ref, err)
}

func (p *Persistence) properties(ctx context.Context, q queryer, ref models.NodeRef) (map[string]any, error) {
	var data string

	err := q.QueryRowContext(ctx, p.dialect.Rebind("SELECT properties FROM nodes WHERE store = ? AND id = ?"), ref.Store, ref.ID).Scan(&data)
	if err != nil {
		return nil, err
	}

	return persistence.DecodeProperties([]byte(data))
}

func (p *Persistence) Properties(ctx context.Context, ref models.NodeRef) (map[string]any, error) {
	props, err := p.properties(ctx, p.db, ref)
	if err != nil {
		return nil, p.nodeError("Properties", ref, err)
	}

	return props, nil
}

func (p *Persistence) Property(ctx context.Context, ref models.NodeRef, name string) (any, error) {
	props, err := p.properties(ctx, p.db, ref)
	if err != nil {
		return nil, p.nodeError("Property", ref, err)
	}

	return props[name], nil
}

func (p *Persistence) updateProperties(ctx context.Context, op string, ref models.NodeRef, update func(existing map[string]any) map[string]any) error {
	err := p.withTx(ctx, func(q queryer) error {
		existing, err := p.properties(ctx, q, ref)
		if err != nil {
			return err
		}

		data, err := persistence.EncodeProperties(persistence.ModifiedProperties(ctx, existing, update(existing), p.now()))
		if err != nil {
			return err
		}

		_, err = q.ExecContext(ctx, p.dialect.Rebind("UPDATE nodes SET properties = ? WHERE store = ? AND id = ?"), string(data), ref.Store, ref.ID)
		if err != nil {
			return fmt.Errorf("failed to update properties: %w", err)
		}

		return nil
	})
	if err != nil {
		return p.nodeError(op, ref, err)
	}

	return nil
}

func (p *Persistence) SetProperties(ctx context.Context, ref models.NodeRef, props map[string]any) error {
	return p.updateProperties(ctx, "SetProperties", ref, func(map[string]any) map[string]any {
		return props
	})
}

func (p *Persistence) SetProperty(ctx context.Context, ref models.NodeRef, name string, value any) error {
	return p.updateProperties(ctx, "SetProperty", ref, func(existing map[string]any) map[string]any {
		existing[name] = value

		return existing
	})
}

func (p *Persistence) children(ctx context.Context, q queryer, parent models.NodeRef, assocType string) ([]models.NodeRef, error) {
	query := "SELECT store, id FROM nodes WHERE parent_store = ? AND parent_id = ?"
	args := []any{parent.Store, parent.ID}

	if assocType != "" {
		query += " AND assoc_type = ?"
		args = append(args, assocType)
	}

	rows, err := q.QueryContext(ctx, p.dialect.Rebind(query+" ORDER BY position"), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			p.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var refs []models.NodeRef

	for rows.Next() {
		var ref models.NodeRef
		if err := rows.Scan(&ref.Store, &ref.ID); err != nil {
			return nil, fmt.Errorf("failed to scan child: %w", err)
		}

		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating children: %w", err)
	}

	return refs, nil
}

func (p *Persistence) ChildAssocs(ctx context.Context, parent models.NodeRef, assocType string) ([]models.NodeRef, error) {
	ok, err := p.exists(ctx, p.db, parent)
	if err != nil {
		return nil, persistence.NewNodeError("ChildAssocs", parent, err)
	}

	if !ok {
		return nil, persistence.NewNodeError("ChildAssocs", parent, persistence.ErrNodeNotFound)
	}

	refs, err := p.children(ctx, p.db, parent, assocType)
	if err != nil {
		return nil, persistence.NewNodeError("ChildAssocs", parent, err)
	}

	return refs, nil
}

func (p *Persistence) parent(ctx context.Context, q queryer, ref models.NodeRef) (models.NodeRef, error) {
	var parent models.NodeRef

	err := q.QueryRowContext(ctx, p.dialect.Rebind("SELECT parent_store, parent_id FROM nodes WHERE store = ? AND id = ?"), ref.Store, ref.ID).
		Scan(&parent.Store, &parent.ID)
	if err != nil {
		return models.NodeRef{}, err
	}

	return parent, nil
}

func (p *Persistence) PrimaryParent(ctx context.Context, ref models.NodeRef) (models.NodeRef, error) {
	parent, err := p.parent(ctx, p.db, ref)
	if err != nil {
		return models.NodeRef{}, p.nodeError("PrimaryParent", ref, err)
	}

	return parent, nil
}

func (p *Persistence) RemoveChild(ctx context.Context, parent, ref models.NodeRef) error {
	err := p.withTx(ctx, func(q queryer) error {
		actual, err := p.parent(ctx, q, ref)
		if err != nil {
			return err
		}

		if actual != parent {
			return persistence.ErrNotChild
		}

		// breadth first, so every node is deleted after it was listed
		pending := []models.NodeRef{ref}

		for len(pending) > 0 {
			current := pending[0]
			pending = pending[1:]

			children, err := p.children(ctx, q, current, "")
			if err != nil {
				return err
			}

			pending = append(pending, children...)

			if _, err := q.ExecContext(ctx, p.dialect.Rebind("DELETE FROM nodes WHERE store = ? AND id = ?"), current.Store, current.ID); err != nil {
				return fmt.Errorf("failed to delete node %s: %w", current, err)
			}
		}

		return nil
	})
	if err != nil {
		return p.nodeError("RemoveChild", ref, err)
	}

	return nil
}

func (p *Persistence) aspects(ctx context.Context, q queryer, ref models.NodeRef) ([]string, error) {
	var data string

	err := q.QueryRowContext(ctx, p.dialect.Rebind("SELECT aspects FROM nodes WHERE store = ? AND id = ?"), ref.Store, ref.ID).Scan(&data)
	if err != nil {
		return nil, err
	}

	var aspects []string
	if err := json.Unmarshal([]byte(data), &aspects); err != nil {
		return nil, fmt.Errorf("failed to decode aspects: %w", err)
	}

	return aspects, nil
}

func (p *Persistence) HasAspect(ctx context.Context, ref models.NodeRef, aspect string) (bool, error) {
	aspects, err := p.aspects(ctx, p.db, ref)
	if err != nil {
		return false, p.nodeError("HasAspect", ref, err)
	}

	return slices.Contains(aspects, aspect), nil
}

func (p *Persistence) Aspects(ctx context.Context, ref models.NodeRef) ([]string, error) {
	aspects, err := p.aspects(ctx, p.db, ref)
	if err != nil {
		return nil, p.nodeError("Aspects", ref, err)
	}

	return aspects, nil
}

func (p *Persistence) AddAspect(ctx context.Context, ref models.NodeRef, aspect string) error {
	err := p.withTx(ctx, func(q queryer) error {
		aspects, err := p.aspects(ctx, q, ref)
		if err != nil {
			return err
		}

		if slices.Contains(aspects, aspect) {
			return nil
		}

		data, err := json.Marshal(append(aspects, aspect))
		if err != nil {
			return err
		}

		_, err = q.ExecContext(ctx, p.dialect.Rebind("UPDATE nodes SET aspects = ? WHERE store = ? AND id = ?"), string(data), ref.Store, ref.ID)
		if err != nil {
			return fmt.Errorf("failed to update aspects: %w", err)
		}

		return nil
	})
	if err != nil {
		return p.nodeError("AddAspect", ref, err)
	}

	return nil
}
