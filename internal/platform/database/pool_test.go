package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigSetsPoolLimits(t *testing.T) {
	cfg := DefaultConfig()

	assert.Positive(t, cfg.MaxOpenConns)
	assert.Positive(t, cfg.MaxIdleConns)
	assert.Positive(t, cfg.ConnMaxLifetime)
}

func TestNewWithoutURLReturnsNilPool(t *testing.T) {
	pool, err := New(DefaultConfig())

	require.NoError(t, err)
	assert.Nil(t, pool)
}
