package users

import "context"

// Directory is the read-only lookup surface over the durable relational
// store. Both methods return autherrors.ErrUserNotFound for unknown
// users.
type Directory interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
}
