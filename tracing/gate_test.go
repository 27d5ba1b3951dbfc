package tracing

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateLevelOrdering(t *testing.T) {
	g := NewGate(LevelInfo)

	assert.True(t, g.Enabled(LevelError))
	assert.True(t, g.Enabled(LevelInfo))
	assert.False(t, g.Enabled(LevelDebug))
	assert.False(t, g.Enabled(LevelTrace))
}

func TestGateObservesUpdateWithoutRestart(t *testing.T) {
	g := NewGate(LevelOff)
	assert.False(t, g.Enabled(LevelError))

	g.SetLevel(LevelDebug)
	assert.True(t, g.Enabled(LevelDebug))
	assert.Equal(t, LevelDebug, g.Level())

	g.SetLevel(LevelWarn)
	assert.False(t, g.Enabled(LevelInfo))
	assert.True(t, g.Enabled(LevelWarn))
}

func TestGateConcurrentReadersSeeConsistentValues(t *testing.T) {
	g := NewGate(LevelInfo)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				l := g.Level()
				// Only levels ever written may be observed.
				assert.Contains(t, []Level{LevelInfo, LevelTrace}, l)
			}
		}()
	}
	g.SetLevel(LevelTrace)
	wg.Wait()

	assert.Equal(t, LevelTrace, g.Level())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"off", LevelOff, true},
		{"ERROR", LevelError, true},
		{"warning", LevelWarn, true},
		{"info", LevelInfo, true},
		{"", LevelInfo, true},
		{"debug", LevelDebug, true},
		{"trace", LevelTrace, true},
		{"verbose", LevelOff, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if !tt.ok {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
