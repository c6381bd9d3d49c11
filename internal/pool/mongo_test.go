package pool

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"dbhub/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestMongoAdapter(t *testing.T) *MongoAdapter {
	t.Helper()
	bus := &eventBus{}
	recorder := newRecorder(10, 0, bus, zaptest.NewLogger(t))
	leases := newLeaseTracker(0, bus, zaptest.NewLogger(t))
	return newMongoAdapter(config.MongoConfig{},
		newAdapterCore(BackendMongo, recorder, leases, zaptest.NewLogger(t)))
}

func TestClassifyMongoError(t *testing.T) {
	// A deadline buried under a driver-error wrap still surfaces as a
	// connection timeout.
	wrapped := newDriverError("mongodb.execute", BackendMongo,
		fmt.Errorf("find: %w", context.DeadlineExceeded))
	got := classifyMongoError(wrapped)
	assert.True(t, IsConnectionTimeout(got))
	assert.ErrorIs(t, got, context.DeadlineExceeded)

	// Already-classified timeouts are not wrapped a second time.
	timeout := newConnectionTimeoutError("mongodb.execute", BackendMongo, context.DeadlineExceeded)
	assert.Equal(t, timeout, classifyMongoError(timeout))

	// Non-deadline failures pass through untouched.
	plain := newDriverError("mongodb.execute", BackendMongo, errors.New("duplicate key"))
	assert.Equal(t, plain, classifyMongoError(plain))
}

func TestMongoExecuteBeforeInitialize(t *testing.T) {
	a := newTestMongoAdapter(t)

	_, err := a.Execute(context.Background(), "users", MongoFind, MongoArgs{}, ExecOptions{})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestMongoDispatchUnsupportedOperation(t *testing.T) {
	a := newTestMongoAdapter(t)

	_, err := a.dispatch(context.Background(), nil, "explain", MongoArgs{})
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestMongoDispatchInsertValidation(t *testing.T) {
	a := newTestMongoAdapter(t)
	ctx := context.Background()

	_, err := a.dispatch(ctx, nil, MongoInsertOne, MongoArgs{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one document")

	_, err = a.dispatch(ctx, nil, MongoInsertOne, MongoArgs{Documents: []any{1, 2}})
	require.Error(t, err)

	_, err = a.dispatch(ctx, nil, MongoInsertMany, MongoArgs{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one document")
}
