package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/paylite/session-server/internal/model"
)

type CredentialRepository interface {
	FindByUserID(ctx context.Context, userID string) (*model.Credential, error)
	Create(ctx context.Context, userID, passwordHash string) (*model.Credential, error)
	UpdateHash(ctx context.Context, userID, passwordHash string) error
	WithTx(tx *sqlx.Tx) CredentialRepository
}

type credentialDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type credentialRepo struct {
	db credentialDB
}

func NewCredentialRepository(db *sqlx.DB) CredentialRepository {
	return &credentialRepo{db: db}
}

func (r *credentialRepo) WithTx(tx *sqlx.Tx) CredentialRepository {
	return &credentialRepo{db: tx}
}

func (r *credentialRepo) FindByUserID(ctx context.Context, userID string) (*model.Credential, error) {
	var cred model.Credential
	err := r.db.GetContext(ctx, &cred, `
		SELECT * FROM credentials WHERE user_id = $1
	`, userID)
	return HandleNotFound(&cred, err)
}

func (r *credentialRepo) Create(ctx context.Context, userID, passwordHash string) (*model.Credential, error) {
	var cred model.Credential
	err := r.db.GetContext(ctx, &cred, `
		INSERT INTO credentials (user_id, password_hash)
		VALUES ($1, $2)
		RETURNING *
	`, userID, passwordHash)
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (r *credentialRepo) UpdateHash(ctx context.Context, userID, passwordHash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE credentials SET
			password_hash = $2,
			updated_at = $3
		WHERE user_id = $1
	`, userID, passwordHash, time.Now())
	return err
}
