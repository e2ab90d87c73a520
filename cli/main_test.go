package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverrideValueInts(t *testing.T) {
	key, value, err := overrideValue("samples", "5")
	require.NoError(t, err)
	assert.Equal(t, "samples", key)
	assert.Equal(t, 5, value)

	_, _, err = overrideValue("runtime", "soon")
	assert.Error(t, err)
}

func TestOverrideValueIntLists(t *testing.T) {
	key, value, err := overrideValue("queue-depths", "1, 32,128")
	require.NoError(t, err)
	assert.Equal(t, "queue_depths", key)
	assert.Equal(t, []int{1, 32, 128}, value)

	_, _, err = overrideValue("jobcounts", "1,two")
	assert.Error(t, err)
}

func TestOverrideValueStringLists(t *testing.T) {
	key, value, err := overrideValue("block-sizes", "4k,16MiB")
	require.NoError(t, err)
	assert.Equal(t, "block_sizes", key)
	assert.Equal(t, []string{"4k", "16MiB"}, value)
}

func TestOverrideValueBools(t *testing.T) {
	key, value, err := overrideValue("configure-null-blk", "true")
	require.NoError(t, err)
	assert.Equal(t, "configure_null_blk", key)
	assert.Equal(t, true, value)
}

func TestOverrideValueStrings(t *testing.T) {
	key, value, err := overrideValue("module-reload-policy", "once")
	require.NoError(t, err)
	assert.Equal(t, "module_reload_policy", key)
	assert.Equal(t, "once", value)
}

func TestSplitListDropsEmptyEntries(t *testing.T) {
	assert.Equal(t, []string{"read", "randread"}, splitList("read,, randread ,"))
}
