package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeenClaimsOnce(t *testing.T) {
	ctx := context.Background()
	s := NewSeen(10, time.Minute)

	assert.True(t, s.First(ctx, "o1:receipt"))
	assert.False(t, s.First(ctx, "o1:receipt"))
	assert.True(t, s.First(ctx, "o1:invoice"))

	s.Forget(ctx, "o1:receipt")
	assert.True(t, s.First(ctx, "o1:receipt"))
}

func TestSeenConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	s := NewSeen(10, time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.First(ctx, "o1:receipt") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestSeenEvictsOldest(t *testing.T) {
	ctx := context.Background()
	s := NewSeen(2, time.Minute)
	for _, k := range []string{"a", "b", "c"} {
		s.First(ctx, k)
	}
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.First(ctx, "a"))
}

func TestSeenExpires(t *testing.T) {
	ctx := context.Background()
	s := NewSeen(10, 20*time.Millisecond)
	assert.True(t, s.First(ctx, "a"))
	assert.Eventually(t, func() bool { return s.First(ctx, "a") }, time.Second, 10*time.Millisecond)
}
