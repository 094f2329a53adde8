package presence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyIsNamespacedByUser(t *testing.T) {
	assert.Equal(t, "chatcore:presence:user-1", key("user-1"))
	assert.NotEqual(t, key("user-1"), key("user-2"))
}

func TestOutcomeReflectsError(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "error", outcome(errors.New("boom")))
}
