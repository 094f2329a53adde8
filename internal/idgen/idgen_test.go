package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewMessageIDIsMonotone(t *testing.T) {
	a := NewMessageID()
	b := NewMessageID()
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b)
}

func TestIdempotencyKeyFromClientIDIsStable(t *testing.T) {
	a := IdempotencyKeyFromClientID("cm-1")
	b := IdempotencyKeyFromClientID("cm-1")
	assert.Equal(t, a, b)
	assert.Equal(t, "client_", a[:7])
	assert.Len(t, a, 7+32)
}

func TestIdempotencyKeyFromContentWindowsOnSecond(t *testing.T) {
	now := time.Unix(1000, 0)
	a := IdempotencyKeyFromContent("c-1", "u-1", "hi", now)
	b := IdempotencyKeyFromContent("c-1", "u-1", "hi", now.Add(500*time.Millisecond))
	assert.Equal(t, a, b)

	c := IdempotencyKeyFromContent("c-1", "u-1", "hi", now.Add(2*time.Second))
	assert.NotEqual(t, a, c)
}

func TestPartitionForIsStable(t *testing.T) {
	a := PartitionFor("c-1", 16)
	b := PartitionFor("c-1", 16)
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, 0)
	assert.Less(t, a, 16)
}
