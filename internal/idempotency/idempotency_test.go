package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheKeyIsNamespaced(t *testing.T) {
	assert.Equal(t, "chatcore:idem:client_abc123", cacheKey("client_abc123"))
}

func TestNewAppliesDefaultTTL(t *testing.T) {
	s := New(nil, nil, 0)
	assert.Equal(t, 5*time.Minute, s.ttl)
}
