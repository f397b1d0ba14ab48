package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sysinspect/sysinspect/api/types"
	"github.com/sysinspect/sysinspect/pkg/cfgutil"
)

func TestClientServerRoundTrip(t *testing.T) {
	received := make(chan types.MinionMessage, 1)
	srv, err := NewServer("127.0.0.1:0", zap.NewNop(), func(_ string, msg types.MinionMessage) {
		received <- msg
	})
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Shutdown(context.Background())

	client := NewClient(srv.Addr().String(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	require.Eventually(t, client.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Send(types.MinionMessage{ID: "m1", Request: types.RequestEhlo}))

	select {
	case msg := <-received:
		require.Equal(t, "m1", msg.ID)
		require.Equal(t, types.RequestEhlo, msg.Request)
	case <-time.After(time.Second):
		t.Fatal("server never received the message")
	}

	srv.Broadcast(types.MasterMessage{Request: types.RequestPing})
	ev, err := client.Recv(ctx)
	require.NoError(t, err)
	require.Nil(t, ev.Err)
	require.Equal(t, types.RequestPing, ev.Msg.Request)
}

func TestClientSendBeforeConnectedFails(t *testing.T) {
	client := NewClient("127.0.0.1:1", zap.NewNop())
	err := client.Send(types.MinionMessage{ID: "m1", Request: types.RequestEhlo})
	require.Error(t, err)
}

func TestNewClientWithIntervalSeedsBackoffBounds(t *testing.T) {
	interval := cfgutil.ReconnectInterval{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	client := NewClientWithInterval("127.0.0.1:1", zap.NewNop(), interval)
	require.Equal(t, interval, client.interval)
}
