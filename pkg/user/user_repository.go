package user

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrUserNotFound = errors.New("user not found")

// Repository is a user data store. Lookups that simply find nothing return
// exists=false and no error; errors mean the backend could not answer.
type Repository interface {
	GetUser(ctx context.Context, id string) (user User, exists bool, err error)
	ValidatePassword(ctx context.Context, id, password string) (bool, error)
	CreateUser(ctx context.Context, user User) (User, error)
	SetPassword(ctx context.Context, id, password string) error
}

// MemoryUser seeds the in-memory repository from configuration.
type MemoryUser struct {
	ID         string
	Realm      string
	Password   string
	Properties map[string]string
}

type InMemoryUserRepository struct {
	mu        sync.RWMutex
	users     map[string]User
	passwords map[string]string
}

func (ur *InMemoryUserRepository) GetUser(_ context.Context, id string) (User, bool, error) {
	ur.mu.RLock()
	defer ur.mu.RUnlock()
	u, ok := ur.users[id]
	return u, ok, nil
}

func (ur *InMemoryUserRepository) ValidatePassword(_ context.Context, id, password string) (bool, error) {
	ur.mu.RLock()
	defer ur.mu.RUnlock()
	if _, ok := ur.users[id]; !ok {
		return false, nil
	}
	setPass, ok := ur.passwords[id]
	return ok && setPass == password, nil
}

func (ur *InMemoryUserRepository) CreateUser(_ context.Context, user User) (User, error) {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	ur.mu.Lock()
	defer ur.mu.Unlock()
	if _, ok := ur.users[user.ID]; ok {
		return user, errors.Errorf("user %s already exists", user.ID)
	}
	ur.users[user.ID] = user
	return user, nil
}

func (ur *InMemoryUserRepository) SetPassword(_ context.Context, id, password string) error {
	ur.mu.Lock()
	defer ur.mu.Unlock()
	if _, ok := ur.users[id]; !ok {
		return errors.Wrap(ErrUserNotFound, id)
	}
	ur.passwords[id] = password
	return nil
}

func NewInMemoryUserRepository(seed []MemoryUser) *InMemoryUserRepository {
	ur := &InMemoryUserRepository{
		users:     make(map[string]User),
		passwords: make(map[string]string),
	}
	for _, s := range seed {
		ur.users[s.ID] = User{ID: s.ID, Realm: s.Realm, Properties: s.Properties}
		ur.passwords[s.ID] = s.Password
	}
	return ur
}
