package gpubsub

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
	"time"

	logger "github.com/ipfs/go-log/v2"
	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/require"
	"github.com/textileio/auction-ledger/msgbroker"
)

func init() {
	logger.SetAllLoggers(logger.LevelDebug)
}

// The emulator tests need a docker daemon, so they only run when
// GPUBSUB_EMULATOR_TESTS is set.
func requireEmulator(t *testing.T) {
	if os.Getenv("GPUBSUB_EMULATOR_TESTS") == "" {
		t.Skip("GPUBSUB_EMULATOR_TESTS isn't set")
	}
}

func TestNewValidation(t *testing.T) {
	if os.Getenv("PUBSUB_EMULATOR_HOST") != "" {
		t.Skip("emulator configured")
	}
	_, err := New("project", "", "test-", "ledgerd")
	require.Error(t, err)
	_, err = New("", "{}", "test-", "ledgerd")
	require.Error(t, err)
}

// TestE2E registers a handler on topic-1 that republishes to topic-2, publishes
// to topic-1 and waits for the topic-2 handler. Topics and subscriptions don't
// exist beforehand.
func TestE2E(t *testing.T) {
	requireEmulator(t)
	launchPubsubEmulator(t)

	ps, err := New("", "", "test-", "ledgerd")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, ps.Close())
	})

	var lock sync.Mutex // We use shared vars, so to be safe.
	waitChan := make(chan struct{})

	sentDataTopic1 := []byte("vase")
	sentDataTopic2 := []byte("vase-2")

	err = ps.RegisterTopicHandler("topic-1", func(ctx context.Context, data []byte) error {
		lock.Lock()
		defer lock.Unlock()
		require.True(t, bytes.Equal(sentDataTopic1, data))

		return ps.PublishMsg(ctx, "topic-2", sentDataTopic2)
	})
	require.NoError(t, err)

	err = ps.RegisterTopicHandler("topic-2", func(_ context.Context, data []byte) error {
		lock.Lock()
		defer lock.Unlock()
		require.True(t, bytes.Equal(sentDataTopic2, data))

		close(waitChan)
		return nil
	}, msgbroker.WithACKDeadline(time.Second*20))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	err = ps.PublishMsg(ctx, "topic-1", sentDataTopic1)
	require.NoError(t, err)

	select {
	case <-time.After(time.Second * 5):
		t.Fatalf("timed out waiting for handler call")
	case <-waitChan:
	}
}

func launchPubsubEmulator(t *testing.T) {
	pool, err := dockertest.NewPool("")
	require.NoError(t, err)

	container, err := pool.Run("textile/pubsub-emulator", "latest", []string{})
	require.NoError(t, err)

	err = container.Expire(180)
	require.NoError(t, err)

	time.Sleep(time.Second * 2)
	t.Cleanup(func() {
		err = pool.Purge(container)
		require.NoError(t, err)
	})

	pubsubHost := "127.0.0.1:" + container.GetPort("8085/tcp")
	err = os.Setenv("PUBSUB_EMULATOR_HOST", pubsubHost)
	require.NoError(t, err)
}
