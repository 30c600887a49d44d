package kafka

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Healthy(ctx context.Context) error { return f(ctx) }

func listen(t *testing.T) (live, dead string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead = closed.Addr().String()
	closed.Close()
	return ln.Addr().String(), dead
}

func TestHealthChecker(t *testing.T) {
	live, dead := listen(t)

	t.Run("one reachable broker is enough", func(t *testing.T) {
		assert.NoError(t, NewHealthChecker(dead+", "+live).Check(context.Background()))
	})

	t.Run("names every unreachable broker", func(t *testing.T) {
		err := NewHealthChecker(dead + "," + dead).Check(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), dead)
	})

	t.Run("empty list", func(t *testing.T) {
		assert.ErrorIs(t, NewHealthChecker(" , ").Check(context.Background()), ErrNoBrokers)
	})

	t.Run("producer must answer", func(t *testing.T) {
		pingErr := errors.New("not leader")
		h := NewHealthChecker(live, WithProducer(pingerFunc(func(context.Context) error { return pingErr })))

		assert.ErrorIs(t, h.Check(context.Background()), pingErr)
	})

	t.Run("producer skipped when brokers are down", func(t *testing.T) {
		pinged := false
		h := NewHealthChecker(dead, WithProducer(pingerFunc(func(context.Context) error {
			pinged = true
			return nil
		})))

		assert.Error(t, h.Check(context.Background()))
		assert.False(t, pinged)
	})

	assert.Equal(t, "kafka", NewHealthChecker("").Name())
}
