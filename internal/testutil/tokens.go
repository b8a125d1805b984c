package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// TokenSequence is an auth.Source that hands out t0, t1, t2, ... Each
// Refresh advances to the next token.
type TokenSequence struct {
	mu        sync.Mutex
	n         int
	refreshes int
	failNext  int
	rec       *Recorder
}

// NewTokenSequence starts at t0. Refreshes are recorded on rec if non-nil.
func NewTokenSequence(rec *Recorder) *TokenSequence {
	return &TokenSequence{rec: rec}
}

// Token returns the current token.
func (s *TokenSequence) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("t%d", s.n)
}

// Refresh advances to the next token.
func (s *TokenSequence) Refresh(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshes++
	if s.failNext > 0 {
		s.failNext--
		s.rec.Record("refresh failed")
		return "", errors.New("refresh unavailable")
	}
	s.n++
	token := fmt.Sprintf("t%d", s.n)
	s.rec.Record("refresh -> %s", token)
	return token, nil
}

// FailNext makes the next n refreshes fail.
func (s *TokenSequence) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// Refreshes returns how many times Refresh was called.
func (s *TokenSequence) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}
