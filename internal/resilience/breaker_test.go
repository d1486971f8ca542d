package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
	gobreaker "github.com/sony/gobreaker/v2"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewBreaker("test-model", domain.BreakerConfig{FailureThreshold: 2, Timeout: time.Minute})
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
		assert.False(t, Rejected(err))
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return 1, nil })
	assert.True(t, Rejected(err))
}

func TestBreakerPassesResults(t *testing.T) {
	cb := NewBreaker("test-ok", domain.BreakerConfig{})
	v, err := cb.Execute(func() (interface{}, error) { return 0.75, nil })
	assert.NoError(t, err)
	assert.Equal(t, 0.75, v)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}
