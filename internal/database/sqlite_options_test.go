package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaultOptions(t *testing.T) {
	opts := NewDefaultOptions("test.db")

	assert.Equal(t, "test.db", opts.Path)
	assert.Equal(t, "rwc", opts.Mode)
	assert.Equal(t, JournalWAL, opts.Journal)
	assert.True(t, opts.ForeignKeys)
	assert.Equal(t, 5000, opts.BusyTimeout)
	assert.Equal(t, -2000, opts.CacheSize)
	assert.Equal(t, SynchronousNormal, opts.Synchronous)
	assert.Equal(t, "immediate", opts.TxLock)
}
