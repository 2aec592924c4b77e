package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientLimiter(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		l := newClientLimiter(0, 0)
		assert.Nil(t, l)
		for i := 0; i < 10; i++ {
			assert.True(t, l.Allow("10.0.0.1"))
		}
	})

	t.Run("per client burst", func(t *testing.T) {
		l := newClientLimiter(0.001, 2)
		assert.True(t, l.Allow("10.0.0.1"))
		assert.True(t, l.Allow("10.0.0.1"))
		assert.False(t, l.Allow("10.0.0.1"))
		assert.True(t, l.Allow("10.0.0.2"))
	})

	t.Run("prune idle clients", func(t *testing.T) {
		l := newClientLimiter(1, 1)
		l.Allow("10.0.0.1")
		l.prune(time.Now().Add(time.Second))
		assert.Empty(t, l.clients)
	})
}
