package codeerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitIsRetryableByDefault(t *testing.T) {
	err := RateLimit("too many requests", nil)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, SeverityWarning, err.Severity)
}

func TestConfigIsFatal(t *testing.T) {
	err := Config("missing EMBEDDING_API_KEY", nil)
	assert.True(t, IsFatal(err))
	assert.False(t, IsRetryable(err))
}

func TestIsMatchesByKind(t *testing.T) {
	a := RateLimit("first", nil)
	b := RateLimit("second", errors.New("cause"))
	assert.True(t, errors.Is(a, b))

	c := Embedding("different kind", nil)
	assert.False(t, errors.Is(a, c))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	wrapped := Wrap(KindTransientRemote, cause)
	assert.Equal(t, cause, errors.Unwrap(wrapped))
	assert.Equal(t, cause.Error(), wrapped.Message)
}

func TestGetKind(t *testing.T) {
	assert.Equal(t, KindValidation, GetKind(Validation("bad input", nil)))
	assert.Equal(t, Kind(""), GetKind(errors.New("plain")))
}

func TestWithDetailAndSuggestion(t *testing.T) {
	err := Storage("insert failed", nil).WithDetail("project", "foo").WithSuggestion("retry the batch")
	assert.Equal(t, "foo", err.Details["project"])
	assert.Equal(t, "retry the batch", err.Suggestion)
}
