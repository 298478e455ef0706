package remote

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/kleeedolinux/remote.go/remote/protocol"
)

const (
	testSalt      = "PZVbYpvAnZut2SS6JNJytDm9"
	testChallenge = "ztTBnnuqrqaKDzRM3xcVdbYm"
)

// serverOptions scripts the behavior of the in-process remote.
type serverOptions struct {
	// password, when set, makes the greeting carry an auth challenge
	// and rejects clients whose answer does not verify.
	password string
	// staleHello advertises protocol version 0 in the greeting.
	staleHello bool
	// negotiated overrides the version in the identify ack (default:
	// the client's supported version).
	negotiated int
	// silent suppresses the greeting entirely to exercise handshake
	// timeouts.
	silent bool
	// rawGreeting replaces the greeting with these literal bytes.
	rawGreeting []byte
	// eventBeforeAck answers the identify with an event frame instead
	// of the acknowledgement.
	eventBeforeAck bool
	// handle, when set, replaces the default reply-ok request handler.
	handle func(sc *serverConn, req protocol.Request)
}

// testServer is a scripted websocket remote speaking just enough of the
// protocol to drive the client through handshakes, requests and events.
type testServer struct {
	t    *testing.T
	srv  *httptest.Server
	opts serverOptions

	connCh      chan *serverConn
	gotIdentify atomic.Bool
}

type serverConn struct {
	t  *testing.T
	ws *websocket.Conn
	mu sync.Mutex
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()

	if opts.negotiated == 0 {
		opts.negotiated = protocol.RPCVersion
	}

	ts := &testServer{
		t:      t,
		opts:   opts,
		connCh: make(chan *serverConn, 4),
	}

	upgrader := websocket.Upgrader{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		sc := &serverConn{t: t, ws: ws}
		ts.connCh <- sc
		ts.serve(sc)
	}))
	t.Cleanup(ts.srv.Close)

	return ts
}

// conn returns the server side of the most recent client connection.
func (ts *testServer) conn() *serverConn {
	select {
	case sc := <-ts.connCh:
		return sc
	default:
		ts.t.Fatal("no server connection available")
		return nil
	}
}

func (ts *testServer) clientConfig() Config {
	cfg := DefaultConfig()

	u, err := url.Parse(ts.srv.URL)
	if err != nil {
		ts.t.Fatalf("parse server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		ts.t.Fatalf("parse server port: %v", err)
	}

	cfg.Host = u.Hostname()
	cfg.Port = port
	cfg.Password = ts.opts.password
	return cfg
}

func (ts *testServer) serve(sc *serverConn) {
	if ts.opts.silent {
		// Leave the client hanging; just drain until it gives up.
		for {
			if _, _, err := sc.ws.ReadMessage(); err != nil {
				return
			}
		}
	}

	if ts.opts.rawGreeting != nil {
		sc.sendRaw(ts.opts.rawGreeting)
		for {
			if _, _, err := sc.ws.ReadMessage(); err != nil {
				return
			}
		}
	}

	hello := protocol.Hello{
		ServerVersion: "5.1.0-test",
		RPCVersion:    protocol.RPCVersion,
	}
	if ts.opts.staleHello {
		hello.RPCVersion = 0
	}
	if ts.opts.password != "" {
		hello.Authentication = &protocol.Authentication{
			Challenge: testChallenge,
			Salt:      testSalt,
		}
	}
	sc.sendFrame(protocol.OpHello, hello)

	_, raw, err := sc.ws.ReadMessage()
	if err != nil {
		// The client aborted before identifying.
		return
	}
	frame, err := protocol.Decode(raw)
	if err != nil || frame.Op != protocol.OpIdentify {
		sc.t.Errorf("expected identify frame, got %v (err %v)", frame.Op, err)
		return
	}

	var identify protocol.Identify
	if err := json.Unmarshal(frame.Data, &identify); err != nil {
		sc.t.Errorf("bad identify payload: %v", err)
		return
	}
	ts.gotIdentify.Store(true)

	if ts.opts.password != "" {
		want := protocol.AuthResponse(ts.opts.password, testSalt, testChallenge)
		if identify.Authentication != want {
			sc.ws.Close()
			return
		}
	}

	if ts.opts.eventBeforeAck {
		sc.sendEvent("SceneChanged", SubScenes, nil)
		return
	}

	sc.sendFrame(protocol.OpIdentified, protocol.Identified{
		NegotiatedRPCVersion: ts.opts.negotiated,
	})

	for {
		_, raw, err := sc.ws.ReadMessage()
		if err != nil {
			return
		}
		frame, err := protocol.Decode(raw)
		if err != nil {
			continue
		}

		switch frame.Op {
		case protocol.OpRequest:
			var req protocol.Request
			if err := json.Unmarshal(frame.Data, &req); err != nil {
				sc.t.Errorf("bad request payload: %v", err)
				continue
			}
			if ts.opts.handle != nil {
				ts.opts.handle(sc, req)
				continue
			}
			sc.respondOK(req, nil)
		case protocol.OpReidentify:
			sc.sendFrame(protocol.OpIdentified, protocol.Identified{
				NegotiatedRPCVersion: ts.opts.negotiated,
			})
		}
	}
}

func (sc *serverConn) sendFrame(op protocol.OpCode, d any) {
	raw, err := protocol.Encode(op, d)
	if err != nil {
		sc.t.Errorf("encode op %d: %v", op, err)
		return
	}
	sc.sendRaw(raw)
}

func (sc *serverConn) sendRaw(raw []byte) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		sc.t.Logf("server write failed: %v", err)
	}
}

func (sc *serverConn) respondOK(req protocol.Request, data any) {
	var payload json.RawMessage
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			sc.t.Errorf("marshal response payload: %v", err)
			return
		}
		payload = raw
	}
	sc.sendFrame(protocol.OpRequestResponse, protocol.RequestResponse{
		ID:     req.ID,
		Type:   req.Type,
		Status: protocol.Status{Result: true, Code: 100},
		Data:   payload,
	})
}

func (sc *serverConn) respondError(req protocol.Request, code int, comment string) {
	sc.sendFrame(protocol.OpRequestResponse, protocol.RequestResponse{
		ID:     req.ID,
		Type:   req.Type,
		Status: protocol.Status{Result: false, Code: code, Comment: comment},
	})
}

func (sc *serverConn) sendEvent(eventType string, intent EventSubscription, data any) {
	var payload json.RawMessage
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			sc.t.Errorf("marshal event payload: %v", err)
			return
		}
		payload = raw
	}
	sc.sendFrame(protocol.OpEvent, protocol.Event{
		Type:   eventType,
		Intent: uint32(intent),
		Data:   payload,
	})
}

func (sc *serverConn) close() {
	sc.ws.Close()
}
