// Package idgen generates the monotone, time-ordered identifiers used for
// messages and correlation, derives idempotency keys, and computes the
// partition assignment for the durable log.
package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/spaolacci/murmur3"
)

// entropy is a process-wide, crypto/rand-backed source for ULID generation.
// ulid.ULID is lexicographically sortable by its embedded millisecond
// timestamp, giving message ids natural creation-time ordering.
var entropy = ulid.Monotonic(rand.Reader, 0)

// NewMessageID returns a fresh, monotone, time-ordered message identifier.
func NewMessageID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewCorrelationID returns a fresh correlation id for tracing a request
// through producer, log, consumer, and fanout.
func NewCorrelationID() string {
	return uuid.NewString()
}

// NewSocketID returns a fresh per-connection socket identifier.
func NewSocketID() string {
	return uuid.NewString()
}

// IdempotencyKeyFromClientID derives a dedupe key from a client-supplied
// message id: client_<first32hex(sha256(clientMessageId))>.
func IdempotencyKeyFromClientID(clientMessageID string) string {
	return "client_" + first32Hex(clientMessageID)
}

// IdempotencyKeyFromContent derives a dedupe key from conversation, sender,
// and content, windowed to the current second so rapid identical retries
// collapse onto the same key.
func IdempotencyKeyFromContent(conversationID, senderID, content string, now time.Time) string {
	windowed := fmt.Sprintf("%s:%s:%s:%d", conversationID, senderID, content, now.Unix())
	return "idem_" + first32Hex(windowed)
}

func first32Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:32]
}

// PartitionFor computes the partition assignment hash(conversationId) mod N
// using murmur3-32, a well-distributed non-cryptographic hash with stable
// output across instances.
func PartitionFor(conversationID string, partitionCount int) int {
	if partitionCount <= 0 {
		return 0
	}
	h := murmur3.Sum32([]byte(conversationID))
	return int(h % uint32(partitionCount))
}

// ConsumerName returns the per-deployment consumer-group consumer name used
// when claiming a partition.
func ConsumerName(pid int) string {
	return fmt.Sprintf("consumer-%d-%d", pid, time.Now().UnixNano())
}

