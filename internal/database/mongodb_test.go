package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectMongoRejectsBadURI(t *testing.T) {
	_, err := ConnectMongo(context.Background(), "not-a-uri", 100*time.Millisecond)
	require.ErrorContains(t, err, "mongo connect")
}

func TestConnectMongoWithRetryGivesUp(t *testing.T) {
	_, err := ConnectMongoWithRetry(context.Background(), "not-a-uri", 100*time.Millisecond, 1)
	require.ErrorContains(t, err, "after 1 attempts")
}

func TestConnectMongoWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	_, err := ConnectMongoWithRetry(ctx, "not-a-uri", 100*time.Millisecond, 5)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)
}
