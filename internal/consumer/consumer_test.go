package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chatcore/internal/models"
	"chatcore/internal/streamlog"
)

func TestEnvelopeToMessageCopiesFields(t *testing.T) {
	content := "hello"
	env := models.Envelope{
		MessageID:      "msg-1",
		ConversationID: "conv-1",
		SenderID:       "user-1",
		IdempotencyKey: "idem-1",
		CorrelationID:  "corr-1",
		Metadata: models.EnvelopeMeta{
			Content:     &content,
			ContentType: models.MessageText,
		},
	}

	msg := envelopeToMessage(env)
	assert.Equal(t, "msg-1", msg.MessageID)
	assert.Equal(t, "conv-1", msg.ConversationID)
	assert.Equal(t, &content, msg.Content)
	assert.Equal(t, models.MessageText, msg.ContentType)
}

func TestPartitionLabelFormatsAsDecimal(t *testing.T) {
	assert.Equal(t, "0", partitionLabel(0))
	assert.Equal(t, "15", partitionLabel(15))
}

func TestRetryOrDeadLetterDeadLettersAtMaxRetries(t *testing.T) {
	dl := &recordingLog{}
	w := &Worker{partition: 1, log: dl, retries: make(map[string]int)}

	env := models.Envelope{MessageID: "msg-1"}
	for i := 0; i < maxRetries-1; i++ {
		ack := w.retryOrDeadLetter(context.Background(), "entry-1", env, assertErr("transient"))
		assert.False(t, ack)
	}
	ack := w.retryOrDeadLetter(context.Background(), "entry-1", env, assertErr("transient"))
	assert.True(t, ack)
	assert.Len(t, dl.deadLettered, 1)
}

type recordingLog struct {
	deadLettered []models.Envelope
}

func (r *recordingLog) ReadBatch(ctx context.Context, partition int, consumerName string, count int64, block time.Duration) ([]streamlog.Entry, error) {
	return nil, nil
}

func (r *recordingLog) Ack(ctx context.Context, partition int, ids ...string) error { return nil }

func (r *recordingLog) DeadLetter(ctx context.Context, partition int, env models.Envelope, reason string) error {
	r.deadLettered = append(r.deadLettered, env)
	return nil
}

func (r *recordingLog) Pending(ctx context.Context, partition int) (int64, error) { return 0, nil }

type stringErr string

func (e stringErr) Error() string { return string(e) }

func assertErr(s string) error { return stringErr(s) }
