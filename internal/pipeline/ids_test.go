package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/countersync/internal/entity"
)

func TestUUIDv7Generator_ValidFormat(t *testing.T) {
	id := UUIDv7Generator{}.Generate()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, id)
}

func TestUUIDv7Generator_Uniqueness(t *testing.T) {
	gen := UUIDv7Generator{}
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		id := gen.Generate()
		require.False(t, seen[id], "id %s generated twice", id)
		seen[id] = true
	}
}

func TestMillisCorrelationSource_NegatedMillis(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	src := NewMillisCorrelationSource(func() time.Time { return at })
	assert.Equal(t, entity.CorrelationID(-1_700_000_000_123), src.Next())
}

func TestMillisCorrelationSource_StrictlyDecreasingWithinMillisecond(t *testing.T) {
	at := time.UnixMilli(1000)
	src := NewMillisCorrelationSource(func() time.Time { return at })

	first := src.Next()
	second := src.Next()
	third := src.Next()
	assert.Equal(t, entity.CorrelationID(-1000), first)
	assert.Equal(t, entity.CorrelationID(-1001), second)
	assert.Equal(t, entity.CorrelationID(-1002), third)
}

func TestMillisCorrelationSource_ClockGoingBackwards(t *testing.T) {
	ms := int64(5000)
	src := NewMillisCorrelationSource(func() time.Time { return time.UnixMilli(ms) })

	first := src.Next()
	ms = 4000
	second := src.Next()
	assert.Less(t, int64(second), int64(first))
}

func TestMillisCorrelationSource_Concurrent(t *testing.T) {
	src := NewMillisCorrelationSource(nil)
	const goroutines = 50

	ids := make(chan entity.CorrelationID, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- src.Next()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[entity.CorrelationID]bool)
	for id := range ids {
		assert.True(t, id.Valid())
		assert.Less(t, int64(id), int64(0))
		assert.False(t, seen[id])
		seen[id] = true
	}
}
