package guard

import (
	"context"
	"database/sql"
	"errors"
	"log"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes typed repositories over the default token tables.
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	TrackedTokens() repository.Repository[*TrackedToken]
	BlacklistedTokens() repository.Repository[*BlacklistedToken]
}

func NewTrackedTokensRepository(db *bun.DB) repository.Repository[*TrackedToken] {
	handlers := repository.ModelHandlers[*TrackedToken]{
		NewRecord: func() *TrackedToken {
			return &TrackedToken{}
		},
		GetID: func(record *TrackedToken) uuid.UUID {
			// token string is the primary key
			return uuid.Nil
		},
		SetID: func(record *TrackedToken, id uuid.UUID) {},
		GetIdentifier: func() string {
			return "token"
		},
	}
	return repository.NewRepository(db, handlers)
}

func NewBlacklistedTokensRepository(db *bun.DB) repository.Repository[*BlacklistedToken] {
	handlers := repository.ModelHandlers[*BlacklistedToken]{
		NewRecord: func() *BlacklistedToken {
			return &BlacklistedToken{}
		},
		GetID: func(record *BlacklistedToken) uuid.UUID {
			return uuid.Nil
		},
		SetID: func(record *BlacklistedToken, id uuid.UUID) {},
		GetIdentifier: func() string {
			return "token"
		},
	}
	return repository.NewRepository(db, handlers)
}

type mngr struct {
	db                *bun.DB
	trackedTokens     repository.Repository[*TrackedToken]
	blacklistedTokens repository.Repository[*BlacklistedToken]
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:                db,
		trackedTokens:     NewTrackedTokensRepository(db),
		blacklistedTokens: NewBlacklistedTokensRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.trackedTokens == nil {
		return errors.New("repository trackedTokens should be initialized")
	}

	if m.blacklistedTokens == nil {
		return errors.New("repository blacklistedTokens should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) TrackedTokens() repository.Repository[*TrackedToken] {
	return m.trackedTokens
}

func (m mngr) BlacklistedTokens() repository.Repository[*BlacklistedToken] {
	return m.blacklistedTokens
}
