package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	pspublisher "github.com/JakeFAU/kbart-linkcheck/internal/publisher/pubsub"
)

func fakeServer(t *testing.T) option.ClientOption {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return option.WithGRPCConn(conn)
}

func TestPublishSummary(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	connOpt := fakeServer(t)

	admin, err := pubsub.NewClient(ctx, "project-id", connOpt)
	require.NoError(t, err)
	topic, err := admin.CreateTopic(ctx, "link-runs")
	require.NoError(t, err)
	sub, err := admin.CreateSubscription(ctx, "link-runs-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub, err := pspublisher.New(ctx, pspublisher.Config{ProjectID: "project-id", TopicName: "link-runs"}, nil, connOpt)
	require.NoError(t, err)

	id, err := pub.Publish(ctx, "oa.1", map[string]any{"collection": "oa.1", "errors": 2})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	received := make(chan *pubsub.Message, 1)
	recvCtx, stop := context.WithCancel(ctx)
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			select {
			case received <- msg:
			default:
			}
			stop()
		})
	}()

	select {
	case msg := <-received:
		var body map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &body))
		assert.Equal(t, "oa.1", body["collection"])
		assert.EqualValues(t, 2, body["errors"])
		assert.Equal(t, "oa.1", msg.Attributes["collection"])
	case <-ctx.Done():
		t.Fatal("message was not delivered")
	}
	stop()
}

func TestNewMissingTopic(t *testing.T) {
	ctx := context.Background()
	_, err := pspublisher.New(ctx, pspublisher.Config{ProjectID: "project-id", TopicName: "absent"}, nil, fakeServer(t))
	assert.ErrorContains(t, err, "does not exist")

	_, err = pspublisher.New(ctx, pspublisher.Config{}, nil)
	assert.Error(t, err)
}

func TestPublishUnconfigured(t *testing.T) {
	var pub *pspublisher.Publisher
	_, err := pub.Publish(context.Background(), "oa", "x")
	assert.Error(t, err)
}
