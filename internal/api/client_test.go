package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acore-backup/internal/errors"
	"acore-backup/internal/restore"
)

func TestClientAgainstRouter(t *testing.T) {
	h := newHarness(t)
	client, err := NewClient(h.server.URL+"/", time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	op, err := client.GetRestore(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, restore.StatusRunning, op.Status)
	assert.Equal(t, testSetID, op.SetID)

	ops, err := client.ListRestores(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)

	require.NoError(t, client.CancelRestore(ctx, "op-1"))
}

func TestClientMapsErrorBodies(t *testing.T) {
	h := newHarness(t)
	client, err := NewClient(h.server.URL, time.Second)
	require.NoError(t, err)

	_, err = client.GetRestore(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	err = client.CancelRestore(context.Background(), "missing")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestClientUnreachable(t *testing.T) {
	client, err := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	require.NoError(t, err)

	_, err = client.ListRestores(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransientIO))
}

func TestNewClientRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8080", "ftp://host"} {
		_, err := NewClient(raw, time.Second)
		assert.Error(t, err, raw)
	}
}
