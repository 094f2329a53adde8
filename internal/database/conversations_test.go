package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectKeyIsOrderIndependent(t *testing.T) {
	a := directKey("user-1", "user-2")
	b := directKey("user-2", "user-1")
	assert.Equal(t, a, b)
}

func TestDirectKeyDiffersForDifferentPairs(t *testing.T) {
	a := directKey("user-1", "user-2")
	b := directKey("user-1", "user-3")
	assert.NotEqual(t, a, b)
}
