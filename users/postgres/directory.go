// Package postgres implements the users.Directory lookup over the
// durable relational store.
package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/rankforge/go-identity-server/authz"
	autherrors "github.com/rankforge/go-identity-server/internal/errors"
	"github.com/rankforge/go-identity-server/users"
)

var _ users.Directory = (*Directory)(nil)

type Directory struct {
	pool *pgxpool.Pool
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

const selectUser = `
SELECT id, organization_id, email, password_hash, role, permissions, status
FROM users
`

func (d *Directory) FindByID(ctx context.Context, id string) (*users.User, error) {
	return d.find(ctx, selectUser+"WHERE id = $1", id)
}

func (d *Directory) FindByEmail(ctx context.Context, email string) (*users.User, error) {
	return d.find(ctx, selectUser+"WHERE email = $1", strings.ToLower(strings.TrimSpace(email)))
}

func (d *Directory) find(ctx context.Context, query, arg string) (*users.User, error) {
	var (
		u    users.User
		role string
	)
	err := d.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID,
		&u.OrganizationID,
		&u.Email,
		&u.PasswordHash,
		&role,
		&u.Permissions,
		&u.Status,
	)
	if err == pgx.ErrNoRows {
		return nil, autherrors.ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "postgres.Directory find")
	}
	u.Role = authz.Role(role)
	return &u, nil
}
