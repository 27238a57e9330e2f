package guard

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/uptrace/bun"
)

// TableHandle binds a logical table reference to a record factory. Handles
// are resolved once at setup so an unknown reference fails startup rather
// than the first request that needs it.
type TableHandle struct {
	Ref       string
	NewRecord func() any
}

// PersistenceGateway abstracts instance lookup, creation, and deletion
// against logically named tables. Create and Delete are atomic on return.
type PersistenceGateway interface {
	ResolveTable(ref string) (*TableHandle, error)
	Find(ctx context.Context, handle *TableHandle, predicate map[string]any) (any, error)
	Create(ctx context.Context, instance any) error
	Delete(ctx context.Context, instance any) error
}

// BunGateway implements PersistenceGateway over a bun database handle.
type BunGateway struct {
	db     *bun.DB
	tables map[string]*TableHandle
	logger Logger
}

var _ PersistenceGateway = (*BunGateway)(nil)

// NewBunGateway creates a gateway with the default models pre-registered
// under their logical references.
func NewBunGateway(db *bun.DB, logger Logger) *BunGateway {
	if logger == nil {
		logger = defLogger{}
	}
	g := &BunGateway{
		db:     db,
		tables: map[string]*TableHandle{},
		logger: logger,
	}
	g.RegisterTable(TableTrackedTokens, func() any { return &TrackedToken{} })
	g.RegisterTable(TableBlacklistedTokens, func() any { return &BlacklistedToken{} })
	return g
}

// DB exposes the underlying bun handle for typed queries.
func (g *BunGateway) DB() *bun.DB {
	return g.db
}

// RegisterTable maps a logical reference to a record factory. Registration
// happens during setup, before any reads; last registration wins so hosts
// can replace the default models.
func (g *BunGateway) RegisterTable(ref string, factory func() any) {
	g.tables[ref] = &TableHandle{Ref: ref, NewRecord: factory}
}

// ResolveTable returns the handle registered for ref.
func (g *BunGateway) ResolveTable(ref string) (*TableHandle, error) {
	handle, ok := g.tables[ref]
	if !ok {
		return nil, NewTableNotFoundError(ref)
	}
	return handle, nil
}

// Find performs a single-row equality lookup. A missing row returns
// (nil, nil); only storage failures produce errors.
func (g *BunGateway) Find(ctx context.Context, handle *TableHandle, predicate map[string]any) (any, error) {
	record := handle.NewRecord()
	query := g.db.NewSelect().Model(record)

	cols := make([]string, 0, len(predicate))
	for col := range predicate {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		query = query.Where("? = ?", bun.Ident(col), predicate[col])
	}

	if err := query.Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, NewPersistenceError(err, "find")
	}
	return record, nil
}

// Create inserts the instance and commits on return.
func (g *BunGateway) Create(ctx context.Context, instance any) error {
	if _, err := g.db.NewInsert().Model(instance).Exec(ctx); err != nil {
		return NewPersistenceError(err, "create")
	}
	return nil
}

// Delete removes the instance by primary key and commits on return.
func (g *BunGateway) Delete(ctx context.Context, instance any) error {
	if _, err := g.db.NewDelete().Model(instance).WherePK().Exec(ctx); err != nil {
		return NewPersistenceError(err, "delete")
	}
	return nil
}

// ValidateTables confirms that every table reference named by an enabled
// rule feature resolves. Called at setup so misconfiguration cannot reach
// request time.
func (g *BunGateway) ValidateTables(registry *RuleRegistry) error {
	for _, name := range registry.Names() {
		rule, err := registry.Get(name)
		if err != nil {
			return err
		}
		for _, ref := range rule.TableRefs() {
			if _, err := g.ResolveTable(ref); err != nil {
				return err
			}
		}
	}
	return nil
}
