package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetwire/relayhub/pkg/envelope"
	"github.com/fleetwire/relayhub/pkg/logger"
	"github.com/fleetwire/relayhub/pkg/session"
)

type echoRouter struct{}

func (echoRouter) Route(s *session.Session, e envelope.Envelope) {
	_ = s.Enqueue(e.Clone())
}

func TestServeRoundTripsEchoedFrame(t *testing.T) {
	var sess *session.Session
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		sess = session.New("alpha", session.Device, conn, logger.Default())
		go sess.StartWriteFlow()
		sess.Activate()
		Serve(conn, sess, echoRouter{})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	out, _ := envelope.Encode(envelope.New(envelope.Ping))
	if err := client.WriteMessage(websocket.TextMessage, out); err != nil {
		t.Fatalf("write: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	e, err := envelope.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ty, _ := e.Type(); ty != envelope.Ping {
		t.Errorf("got %v, want echoed ping", ty)
	}
}
