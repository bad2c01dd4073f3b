package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	ps, err := parseParams("buy_threshold=0.3, sell_threshold = -0.2")
	require.NoError(t, err)
	assert.Equal(t, "buy_threshold=0.3,sell_threshold=-0.2", ps.Key())

	empty, err := parseParams("")
	require.NoError(t, err)
	assert.Zero(t, empty.Len())

	_, err = parseParams("buy_threshold")
	assert.Error(t, err)
	_, err = parseParams("buy_threshold=high")
	assert.Error(t, err)
}

func TestNewRunID(t *testing.T) {
	a, b := newRunID(), newRunID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len("20060102-")+8)
	assert.True(t, strings.Contains(a, "-"))
}
