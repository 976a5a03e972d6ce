package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelSink(t *testing.T) {
	ch := make(chan Event, 1)
	done := make(chan struct{})
	sink := NewChannelSink(ch, done)

	sink.Emit(Event{Name: "extract_schema", Text: "Schema extracted."})
	e := <-ch
	assert.Equal(t, "extract_schema", e.Name)
	assert.False(t, e.Time.IsZero())

	// Unbuffered and nobody reading: Emit returns once done is closed
	close(done)
	NewChannelSink(make(chan Event), done).Emit(Event{Name: "dropped"})
}

func TestSinkFunc(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	var sink Sink = SinkFunc(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Name)
	})

	var wg sync.WaitGroup
	for _, name := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.Emit(Event{Name: name})
		}()
	}
	wg.Wait()

	require.Len(t, seen, 3)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
}
