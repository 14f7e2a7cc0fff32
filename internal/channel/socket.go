package channel

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/krti/uavlink/internal/conn"
	"github.com/krti/uavlink/log2"
)

const DefaultSocketPath = "/ws"

// Socket is persistent bidirectional event channel to dashboard.
// Frames are binary messages in EncodeEvent format.
type Socket struct {
	log       *log2.Log
	path      string
	timeout   time.Duration
	dialer    *websocket.Dialer
	onCommand CommandSink

	mu   sync.Mutex
	ws   *websocket.Conn
	dead chan struct{}
}

func NewSocket(log *log2.Log, path string, timeout time.Duration, onCommand CommandSink) *Socket {
	if path == "" {
		path = DefaultSocketPath
	}
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}
	return &Socket{
		log:       log,
		path:      path,
		timeout:   timeout,
		dialer:    &websocket.Dialer{HandshakeTimeout: timeout},
		onCommand: onCommand,
	}
}

func (s *Socket) URL(ep conn.Endpoint) string { return "ws://" + ep.String() + s.path }

// Dial replaces any previous connection.
func (s *Socket) Dial(ctx context.Context, ep conn.Endpoint) error {
	s.Close()
	url := s.URL(ep)
	ws, resp, err := s.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return errors.Annotatef(err, "socket dial url=%s", url)
	}
	ws.SetReadLimit(MaxInboundSize + 256)
	dead := make(chan struct{})
	s.mu.Lock()
	s.ws, s.dead = ws, dead
	s.mu.Unlock()
	go s.reader(ws, dead)
	s.log.Debugf("socket connected url=%s", url)
	return nil
}

// Close returns after reader goroutine exits.
func (s *Socket) Close() {
	s.mu.Lock()
	ws, dead := s.ws, s.dead
	s.ws, s.dead = nil, nil
	s.mu.Unlock()
	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		ws.Close()
		<-dead
	}
}

func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ws == nil {
		return false
	}
	select {
	case <-s.dead:
		return false
	default:
		return true
	}
}

func (s *Socket) Send(event string, payload []byte) error {
	frame, err := EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ws == nil {
		return errors.Errorf("socket not connected")
	}
	select {
	case <-s.dead:
		return errors.Errorf("socket reader stopped")
	default:
	}
	_ = s.ws.SetWriteDeadline(time.Now().Add(s.timeout))
	if err := s.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return errors.Annotatef(err, "socket send event=%s", event)
	}
	return nil
}

func (s *Socket) reader(ws *websocket.Conn, dead chan struct{}) {
	defer close(dead)
	for {
		_, b, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debugf("socket read: %v", err)
			}
			return
		}
		name, payload, err := DecodeEvent(b)
		if err != nil {
			s.log.Errorf("socket frame: %v", err)
			continue
		}
		switch name {
		case EventCommand:
			if len(payload) > MaxInboundSize {
				s.log.Errorf("socket command dropped size=%d", len(payload))
				continue
			}
			if s.onCommand != nil {
				s.onCommand(conn.ChannelSocket, payload)
			}
		default:
			s.log.Debugf("socket ignore event=%s size=%d", name, len(payload))
		}
	}
}
