package repofake

import (
	"context"
	"strings"
	"sync"

	autherrors "github.com/rankforge/go-identity-server/internal/errors"
	"github.com/rankforge/go-identity-server/users"
)

var _ users.Directory = (*FakeDirectory)(nil)

type FakeDirectory struct {
	byID    map[string]*users.User
	byEmail map[string]*users.User
	lock    sync.RWMutex
}

func NewFakeDirectory() *FakeDirectory {
	return &FakeDirectory{
		byID:    make(map[string]*users.User),
		byEmail: make(map[string]*users.User),
	}
}

// Add registers a user in the fake directory.
func (d *FakeDirectory) Add(u *users.User) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.byID[u.ID] = u
	d.byEmail[strings.ToLower(u.Email)] = u
}

func (d *FakeDirectory) FindByID(ctx context.Context, id string) (*users.User, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	u, ok := d.byID[id]
	if !ok {
		return nil, autherrors.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (d *FakeDirectory) FindByEmail(ctx context.Context, email string) (*users.User, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	u, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, autherrors.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}
