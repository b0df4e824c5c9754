package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/paylite/session-server/internal/database"
	"github.com/paylite/session-server/internal/model"
)

// AccountWriter creates the user row and its credential in one
// transaction so a failed credential insert never leaves a password-less
// account behind.
type AccountWriter struct {
	db    *database.DB
	users UserRepository
	creds CredentialRepository
}

func NewAccountWriter(db *database.DB, users UserRepository, creds CredentialRepository) *AccountWriter {
	return &AccountWriter{db: db, users: users, creds: creds}
}

func (w *AccountWriter) CreateAccount(ctx context.Context, params model.CreateUserParams, passwordHash string) (*model.User, error) {
	var user *model.User
	err := w.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		created, err := w.users.WithTx(tx).Create(ctx, params)
		if err != nil {
			return err
		}
		if _, err := w.creds.WithTx(tx).Create(ctx, created.ID, passwordHash); err != nil {
			return err
		}
		user = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
