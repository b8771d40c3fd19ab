package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvertiseAddrFromBindAddr(t *testing.T) {
	t.Run("host", func(t *testing.T) {
		addr, err := advertiseAddrFromBindAddr("10.26.104.14:7946")
		assert.NoError(t, err)
		assert.Equal(t, "10.26.104.14:7946", addr)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := advertiseAddrFromBindAddr("10.26.104.14")
		assert.Error(t, err)
	})
}
