package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRetryReasonMoved(t *testing.T) {
	reason, ok := ParseRetryReason([]byte("MOVED 3999 127.0.0.1:6381"))
	require.True(t, ok)
	assert.Equal(t, RetryMoved, reason.Kind)
	assert.Equal(t, int64(3999), reason.Slot)
	assert.Equal(t, "127.0.0.1:6381", reason.Addr)
}

func TestParseRetryReasonAsk(t *testing.T) {
	reason, ok := ParseRetryReason([]byte("ASK 3999 127.0.0.1:6381"))
	require.True(t, ok)
	assert.Equal(t, RetryAsk, reason.Kind)
}

func TestParseRetryReasonOrdinaryError(t *testing.T) {
	_, ok := ParseRetryReason([]byte("WRONGTYPE Operation against a key"))
	assert.False(t, ok)
}

func TestSentinelRetryReason(t *testing.T) {
	reason := SentinelRetryReason("10.0.0.5:6379")
	assert.Equal(t, RetrySentinel, reason.Kind)
	assert.Equal(t, "10.0.0.5:6379", reason.Addr)
}
