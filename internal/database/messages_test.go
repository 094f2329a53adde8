package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"chatcore/internal/models"
)

func TestReverseMessagesOrdersAscending(t *testing.T) {
	msgs := []models.Message{
		{MessageID: "m3"},
		{MessageID: "m2"},
		{MessageID: "m1"},
	}
	reverseMessages(msgs)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{msgs[0].MessageID, msgs[1].MessageID, msgs[2].MessageID})
}

func TestReverseMessagesHandlesEmptyAndSingle(t *testing.T) {
	empty := []models.Message{}
	reverseMessages(empty)
	assert.Empty(t, empty)

	single := []models.Message{{MessageID: "m1"}}
	reverseMessages(single)
	assert.Equal(t, "m1", single[0].MessageID)
}
