// Package cache holds the in-process notification dedup used when no Redis
// is configured.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Seen remembers claimed keys for ttl in a size-bounded LRU. It only
// dedups within one process, which holds for notifications because events
// are keyed by order id and each partition has a single owner.
type Seen struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, struct{}]
}

func NewSeen(size int, ttl time.Duration) *Seen {
	if size <= 0 {
		size = 1000
	}
	return &Seen{lru: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// First claims key and reports whether this call was the first.
func (s *Seen) First(_ context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lru.Contains(key) {
		return false
	}
	s.lru.Add(key, struct{}{})
	return true
}

// Forget releases a claim so a redelivery is handled again.
func (s *Seen) Forget(_ context.Context, key string) {
	s.lru.Remove(key)
}

func (s *Seen) Len() int { return s.lru.Len() }
