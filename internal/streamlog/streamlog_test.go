package streamlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionForIsWithinRange(t *testing.T) {
	l := &Log{partitionCount: 16}
	p := l.PartitionFor("conversation-123")
	assert.GreaterOrEqual(t, p, 0)
	assert.Less(t, p, 16)
}

func TestStreamKeysAreNamespacedByPartition(t *testing.T) {
	l := &Log{partitionCount: 16}
	assert.Equal(t, "chatcore:log:3", l.streamKey(3))
	assert.Equal(t, "chatcore:dlq:3", l.deadLetterKey(3))
}

func TestIsBusyGroupErr(t *testing.T) {
	assert.True(t, isBusyGroupErr(assertErr("BUSYGROUP Consumer Group name already exists")))
	assert.False(t, isBusyGroupErr(assertErr("connection refused")))
}

type stringErr string

func (e stringErr) Error() string { return string(e) }

func assertErr(s string) error { return stringErr(s) }
