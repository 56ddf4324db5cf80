package demo

import (
	"context"
	"errors"
	"sync"
)

//go:generate go run github.com/glimte/weave-go/cmd/weavegen --namespace demo --out user_service_woven.go . UserService

// ErrUserNotFound is returned when no user has the requested id
var ErrUserNotFound = errors.New("user not found")

// UserService looks up users
type UserService interface {
	GetName(ctx context.Context, id string) (string, error)
}

// MemoryUserService is an in-memory UserService
type MemoryUserService struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewMemoryUserService creates a service seeded with id to name pairs
func NewMemoryUserService(names map[string]string) *MemoryUserService {
	s := &MemoryUserService{names: make(map[string]string, len(names))}
	for id, name := range names {
		s.names[id] = name
	}
	return s
}

// Put stores or replaces a user
func (s *MemoryUserService) Put(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[id] = name
}

// GetName implements UserService
func (s *MemoryUserService) GetName(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.names[id]
	if !ok {
		return "", ErrUserNotFound
	}
	return name, nil
}
