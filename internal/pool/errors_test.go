package pool

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	timeout := newConnectionTimeoutError("mysql.execute", BackendMySQL, nil)
	assert.True(t, IsConnectionTimeout(timeout))
	assert.False(t, IsConfigurationError(timeout))

	cfg := newConfigurationError("pool.new", "bad config", nil)
	assert.True(t, IsConfigurationError(cfg))
	assert.False(t, IsConnectionTimeout(cfg))

	// Codes survive further wrapping.
	wrapped := fmt.Errorf("outer: %w", timeout)
	assert.True(t, IsConnectionTimeout(wrapped))

	assert.False(t, IsConnectionTimeout(errors.New("plain")))
	assert.False(t, IsConnectionTimeout(nil))
}

func TestDriverErrorSanitized(t *testing.T) {
	cause := errors.New("auth failed for postgres://app:secret123@db:5432/app")
	err := newDriverError("postgres.initialize", BackendPostgres, cause)

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeDriver, pe.Code)
	assert.NotContains(t, pe.Message, "secret123")
	assert.Contains(t, pe.Message, "[REDACTED]")
}

func TestRollbackErrorKeepsOriginal(t *testing.T) {
	original := errors.New("duplicate key")
	rbFailure := errors.New("rollback: connection lost")

	err := newRollbackError("mysql.execute", BackendMySQL, rbFailure, original)

	// The root cause stays reachable for errors.Is despite the rollback failure.
	assert.ErrorIs(t, err, original)
	assert.Contains(t, err.Error(), "rollback failed")

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeTransactionRollback, pe.Code)
	assert.Equal(t, BackendMySQL, pe.Backend)
}

func TestErrorString(t *testing.T) {
	withCause := NewError(CodeDriver, "op", BackendMongo, "it broke", errors.New("cause"))
	assert.Equal(t, "op: it broke: cause", withCause.Error())

	bare := NewError(CodeConfiguration, "op", "", "missing host", nil)
	assert.Equal(t, "op: missing host", bare.Error())
	assert.Nil(t, errors.Unwrap(bare))
}
