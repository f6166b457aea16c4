package vm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConfigDefaults(t *testing.T) {
	cfg, err := resolveConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.MaxProcesses)
	assert.Equal(t, MailboxFullBlock, cfg.MailboxFullBehavior)
	assert.Equal(t, 30*time.Second, cfg.DefaultMessageTTL)
}

func TestResolveConfigAppliesOptions(t *testing.T) {
	cfg, err := resolveConfig([]Option{
		WithMaxProcesses(5),
		WithMailboxFullBehavior(MailboxFullDrop),
		WithDefaultReceiveTimeout(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxProcesses)
	assert.Equal(t, MailboxFullDrop, cfg.MailboxFullBehavior)
	assert.Equal(t, time.Minute, cfg.DefaultReceiveTimeout)
}

func TestResolveConfigRejectsInvalidValues(t *testing.T) {
	_, err := resolveConfig([]Option{WithMaxProcesses(0)})
	require.Error(t, err)
	f, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, KindValue, f.Kind)
}
