package service

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceGenerator_StrictlyIncreasing(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	g := NewInvoiceGenerator()
	g.now = func() time.Time { return fixed }

	assert.Equal(t, "INV-1700000000000", g.Next())
	assert.Equal(t, "INV-1700000000001", g.Next())

	// clock going backwards never reissues a number
	fixed = fixed.Add(-time.Second)
	assert.Equal(t, "INV-1700000000002", g.Next())
}

func TestInvoiceGenerator_UniqueUnderConcurrency(t *testing.T) {
	g := NewInvoiceGenerator()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := g.Next()
			mu.Lock()
			defer mu.Unlock()
			seen[n] = true
		}()
	}
	wg.Wait()

	require.Len(t, seen, 50)
	for n := range seen {
		assert.True(t, strings.HasPrefix(n, "INV-"))
	}
}
