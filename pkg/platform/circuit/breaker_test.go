package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(c *clock) *Breaker {
	return New("directory",
		WithFailureThreshold(2),
		WithSuccessThreshold(2),
		WithOpenTimeout(time.Minute),
		WithClock(c.now),
	)
}

func TestOpensAfterThreshold(t *testing.T) {
	b := newTestBreaker(&clock{t: time.Unix(0, 0)})

	useFallback, change := b.RecordFailure()
	assert.False(t, useFallback)
	assert.False(t, change.Opened)
	assert.True(t, b.Allow())

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)
	assert.False(t, b.Allow())
	assert.Equal(t, "open", b.State().String())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(&clock{t: time.Unix(0, 0)})

	b.RecordFailure()
	usePrimary, _ := b.RecordSuccess()
	b.RecordFailure()

	assert.True(t, usePrimary)
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenAfterTimeout(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	b := newTestBreaker(c)
	b.RecordFailure()
	b.RecordFailure()

	c.advance(59 * time.Second)
	assert.False(t, b.Allow())

	c.advance(time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	assert.Equal(t, "half_open", b.State().String())
}

func TestHalfOpenSuccessesClose(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	b := newTestBreaker(c)
	b.RecordFailure()
	b.RecordFailure()
	c.advance(time.Minute)
	require.True(t, b.Allow())

	usePrimary, change := b.RecordSuccess()
	assert.False(t, usePrimary)
	assert.False(t, change.Closed)

	usePrimary, change = b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	b := newTestBreaker(c)
	b.RecordFailure()
	b.RecordFailure()
	c.advance(time.Minute)
	require.True(t, b.Allow())

	useFallback, change := b.RecordFailure()

	assert.True(t, useFallback)
	assert.True(t, change.Opened)
	assert.False(t, b.Allow())

	c.advance(time.Minute)
	assert.True(t, b.Allow())
}

func TestName(t *testing.T) {
	assert.Equal(t, "directory", newTestBreaker(&clock{t: time.Unix(0, 0)}).Name())
}
