// Package identity answers "who is the caller". Request handlers take the
// identity from the request context; long-running processes use a Session.
package identity

import (
	"context"
	"errors"
	"sync"
)

// ErrUnauthenticated is returned when an operation needs an identity and
// none is active.
var ErrUnauthenticated = errors.New("unauthenticated")

// Provider exposes the current identity, if any, at call time.
type Provider interface {
	Current(ctx context.Context) (string, bool)
}

// Current returns the identity from p or ErrUnauthenticated.
func Current(ctx context.Context, p Provider) (string, error) {
	if p == nil {
		return "", ErrUnauthenticated
	}
	uid, ok := p.Current(ctx)
	if !ok || uid == "" {
		return "", ErrUnauthenticated
	}
	return uid, nil
}

type ctxKey struct{}

// WithUser returns a copy of ctx carrying uid.
func WithUser(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, ctxKey{}, uid)
}

// FromContext returns the identity stored by WithUser.
func FromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(ctxKey{}).(string)
	return uid, ok && uid != ""
}

// ContextProvider reads the identity placed in the context by the auth
// middleware.
type ContextProvider struct{}

func (ContextProvider) Current(ctx context.Context) (string, bool) {
	return FromContext(ctx)
}

// Session is a process-wide identity owned by whoever signs it in. Readers
// only observe it; Wait lets them block until an identity resolves.
type Session struct {
	mu    sync.RWMutex
	uid   string
	ready chan struct{}
}

func NewSession() *Session {
	return &Session{ready: make(chan struct{})}
}

func (s *Session) SignIn(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uid = uid
	if uid == "" {
		return
	}
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
}

func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uid = ""
	select {
	case <-s.ready:
		s.ready = make(chan struct{})
	default:
	}
}

func (s *Session) Current(context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uid, s.uid != ""
}

// Wait blocks until an identity is signed in or ctx is done.
func (s *Session) Wait(ctx context.Context) (string, error) {
	for {
		s.mu.RLock()
		uid, ready := s.uid, s.ready
		s.mu.RUnlock()
		if uid != "" {
			return uid, nil
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
