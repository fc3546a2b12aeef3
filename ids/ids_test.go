package ids

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomString(t *testing.T) {
	val, err := RandomString("ab", 32)
	assert.NoError(t, err)
	assert.Len(t, val, 32)
	assert.Empty(t, strings.Trim(val, "ab"))
}

func TestCommandIDsAreUnique(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 500 {
				id := NewCommandID()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 4000)
}

func TestSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	assert.True(t, strings.HasPrefix(a, "sess_"))
	assert.NotEqual(t, a, b)
}
