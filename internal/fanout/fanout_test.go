package fanout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/models"
)

type recordingReceipts struct {
	receipts []models.Receipt
}

func (r *recordingReceipts) RecordReceipt(ctx context.Context, rec models.Receipt) error {
	r.receipts = append(r.receipts, rec)
	return nil
}

func TestDispatchExcludesSenderAndRecordsSentReceipts(t *testing.T) {
	receipts := &recordingReceipts{}
	queue := make(Queue, 10)
	f := New(queue, receipts)

	env := models.Envelope{
		MessageID: "msg-1",
		SenderID:  "user-1",
		Metadata:  models.EnvelopeMeta{RecipientIDs: []string{"user-1", "user-2", "user-3"}},
	}
	f.Dispatch(context.Background(), env)

	require.Len(t, queue, 2)
	assert.Len(t, receipts.receipts, 2)
	for _, r := range receipts.receipts {
		assert.Equal(t, models.ReceiptSent, r.State)
		assert.NotEqual(t, "user-1", r.RecipientID)
	}
}

func TestDispatchDropsOnFullQueue(t *testing.T) {
	queue := make(Queue, 1)
	f := New(queue, nil)

	env := models.Envelope{
		MessageID: "msg-1",
		SenderID:  "user-1",
		Metadata:  models.EnvelopeMeta{RecipientIDs: []string{"user-2", "user-3"}},
	}
	f.Dispatch(context.Background(), env)
	assert.Len(t, queue, 1)
}
