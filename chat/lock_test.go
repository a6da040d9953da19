package chat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	km := newKeyedMutex()

	keys := []string{"a", "b"}
	counters := make([]int, len(keys))
	var wg sync.WaitGroup

	const workers = 20
	const rounds = 100
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k, key := range keys {
				for j := 0; j < rounds; j++ {
					km.lock(key)
					counters[k]++
					km.unlock(key)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*rounds, counters[0])
	assert.Equal(t, workers*rounds, counters[1])
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	km := newKeyedMutex()

	km.lock("x")
	km.unlock("x")

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.locks, "idle keys must not accumulate")
}
