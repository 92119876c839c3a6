package redisarchive

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/warpsurf/agentcore/ledger"
)

var (
	testRedisClient    *redis.Client
	testRedisContainer testcontainers.Container
	skipIntegration    bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		skipIntegration = true
	} else {
		host, err := testRedisContainer.Host(ctx)
		if err != nil {
			skipIntegration = true
		} else {
			port, err := testRedisContainer.MappedPort(ctx, "6379")
			if err != nil {
				skipIntegration = true
			} else {
				testRedisClient = redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
				if err := testRedisClient.Ping(ctx).Err(); err != nil {
					skipIntegration = true
				}
			}
		}
	}

	code := m.Run()

	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testRedisContainer != nil {
		_ = testRedisContainer.Terminate(ctx)
	}
	os.Exit(code)
}

func getRedis(t *testing.T) *redis.Client {
	t.Helper()
	if skipIntegration {
		t.Skip("Docker not available, skipping integration test")
	}
	require.NoError(t, testRedisClient.FlushDB(context.Background()).Err())
	return testRedisClient
}

func TestSnapshotAndLoadRoundTrip(t *testing.T) {
	rdb := getRedis(t)
	a, err := New(rdb, Options{})
	require.NoError(t, err)

	ctx := context.Background()
	usages := []ledger.Usage{
		{SessionID: "s1", RecordedAt: time.Now(), InputTokens: 10, Provider: "anthropic"},
		{SessionID: "s1", RecordedAt: time.Now().Add(time.Second), InputTokens: 20, Provider: "openai"},
	}
	require.NoError(t, a.Snapshot(ctx, "s1", usages))

	loaded, err := a.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestSnapshotSetsExpiry(t *testing.T) {
	rdb := getRedis(t)
	a, err := New(rdb, Options{TTL: time.Hour})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Snapshot(ctx, "s1", []ledger.Usage{{SessionID: "s1", RecordedAt: time.Now()}}))

	ttl, err := rdb.TTL(ctx, hashKey("s1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Hour)
}

func TestSnapshotOverwritesSameFingerprint(t *testing.T) {
	rdb := getRedis(t)
	a, err := New(rdb, Options{})
	require.NoError(t, err)

	ctx := context.Background()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	u := ledger.Usage{SessionID: "s1", RecordedAt: ts, InputTokens: 1}

	require.NoError(t, a.Snapshot(ctx, "s1", []ledger.Usage{u}))
	require.NoError(t, a.Snapshot(ctx, "s1", []ledger.Usage{u}))

	loaded, err := a.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestNewRequiresRedisClient(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)
}
