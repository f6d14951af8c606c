package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessChannel(t *testing.T) {
	assert.Equal(t, "access:org-1", AccessChannel("org-1"))
}

func TestRateLimitKey(t *testing.T) {
	assert.Equal(t, "ratelimit:scan:guard-1", RateLimitKey("scan", "guard-1"))
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("not-a-redis-url")
	assert.Error(t, err)
}
