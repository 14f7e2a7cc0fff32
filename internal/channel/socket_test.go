package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/krti/uavlink/internal/conn"
	"github.com/krti/uavlink/log2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dashboardSocket struct {
	frames chan []byte
	conns  chan *websocket.Conn
}

func newDashboardSocket(t testing.TB) (*dashboardSocket, *httptest.Server) {
	d := &dashboardSocket{frames: make(chan []byte, 8), conns: make(chan *websocket.Conn, 1)}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		d.conns <- ws
		for {
			_, b, err := ws.ReadMessage()
			if err != nil {
				return
			}
			d.frames <- b
		}
	})
	return d, httptest.NewServer(mux)
}

func TestSocket(t *testing.T) {
	t.Parallel()

	dash, srv := newDashboardSocket(t)
	defer srv.Close()

	commands := make(chan []byte, 1)
	s := NewSocket(log2.NewTest(t, log2.LDebug), "", time.Second, func(source conn.Channel, payload []byte) {
		assert.Equal(t, conn.ChannelSocket, source)
		commands <- payload
	})
	ep := endpointOf(t, srv.URL)
	require.NoError(t, s.Dial(context.Background(), ep))
	defer s.Close()
	assert.True(t, s.Connected())

	require.NoError(t, s.Send(EventTelemetry, []byte(`{"t":1}`)))
	frame := <-dash.frames
	name, payload, err := DecodeEvent(frame)
	require.NoError(t, err)
	assert.Equal(t, EventTelemetry, name)
	assert.Equal(t, `{"t":1}`, string(payload))

	ws := <-dash.conns
	cmdFrame, _ := EncodeEvent(EventCommand, []byte(`{"command":"relay_on"}`))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, cmdFrame))
	select {
	case b := <-commands:
		assert.Equal(t, `{"command":"relay_on"}`, string(b))
	case <-time.After(5 * time.Second):
		t.Fatal("command not received")
	}

	// dashboard goes away: reader stops, next send fails
	ws.Close()
	require.Eventually(t, func() bool { return !s.Connected() }, 5*time.Second, 10*time.Millisecond)
	assert.Error(t, s.Send(EventTelemetry, []byte("{}")))
}

func TestSocketDialFail(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	s := NewSocket(log2.NewTest(t, log2.LDebug), "", time.Second, nil)
	assert.Error(t, s.Dial(context.Background(), endpointOf(t, srv.URL)))
	assert.False(t, s.Connected())
	assert.Error(t, s.Send(EventTelemetry, nil))
}
