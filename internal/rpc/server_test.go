package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/hearth/internal/agent"
)

// testHandler is the method surface the wire tests run against.
type testHandler struct{}

func (h *testHandler) Ping() string { return "pong" }

func (h *testHandler) Add(a, b int) int { return a + b }

func (h *testHandler) Fail() error { return errors.New("deliberate") }

func (h *testHandler) Count(n int) <-chan int {
	ch := make(chan int)
	go func() {
		defer close(ch)
		for i := 1; i <= n; i++ {
			ch <- i
		}
	}()
	return ch
}

func (h *testHandler) Broken() <-chan any {
	ch := make(chan any)
	go func() {
		defer close(ch)
		ch <- "first"
		ch <- errors.New("stream blew up")
	}()
	return ch
}

func dial(t *testing.T) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(NewServer(&testHandler{}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
}

func recv(t *testing.T, conn *websocket.Conn) Response {
	t.Helper()
	var resp struct {
		RequestID string          `json:"requestId"`
		Kind      string          `json:"kind"`
		Object    json.RawMessage `json:"object"`
	}
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	var object any
	if len(resp.Object) > 0 {
		json.Unmarshal(resp.Object, &object)
	}
	return Response{RequestID: resp.RequestID, Kind: resp.Kind, Object: object}
}

func TestReply(t *testing.T) {
	conn := dial(t)
	send(t, conn, `{"requestId":"r1","method":"ping","args":[]}`)
	resp := recv(t, conn)
	if resp.RequestID != "r1" || resp.Kind != "reply" || resp.Object != "pong" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestReplyWithArgs(t *testing.T) {
	conn := dial(t)
	send(t, conn, `{"requestId":"r1","method":"add","args":[2,3]}`)
	resp := recv(t, conn)
	if resp.Kind != "reply" || resp.Object != float64(5) {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestStream(t *testing.T) {
	conn := dial(t)
	send(t, conn, `{"requestId":"r1","method":"count","args":[3]}`)

	for i := 1; i <= 3; i++ {
		resp := recv(t, conn)
		if resp.RequestID != "r1" || resp.Kind != "item" || resp.Object != float64(i) {
			t.Fatalf("item %d = %+v", i, resp)
		}
	}
	end := recv(t, conn)
	if end.Kind != "end" || end.Object != nil {
		t.Fatalf("end = %+v", end)
	}
}

func TestStreamErrorReplacesEnd(t *testing.T) {
	conn := dial(t)
	send(t, conn, `{"requestId":"r1","method":"broken","args":[]}`)

	first := recv(t, conn)
	if first.Kind != "item" || first.Object != "first" {
		t.Fatalf("first = %+v", first)
	}
	errResp := recv(t, conn)
	if errResp.Kind != "error" {
		t.Fatalf("second = %+v, want error envelope", errResp)
	}
	obj, ok := errResp.Object.(map[string]any)
	if !ok || !strings.Contains(fmt.Sprint(obj["message"]), "stream blew up") {
		t.Fatalf("error object = %+v", errResp.Object)
	}
}

func TestHandlerError(t *testing.T) {
	conn := dial(t)
	send(t, conn, `{"requestId":"r1","method":"fail","args":[]}`)
	resp := recv(t, conn)
	if resp.Kind != "error" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestUnknownMethod(t *testing.T) {
	conn := dial(t)
	send(t, conn, `{"requestId":"r1","method":"ghost","args":[]}`)
	resp := recv(t, conn)
	if resp.Kind != "error" || resp.RequestID != "r1" {
		t.Fatalf("resp = %+v", resp)
	}

	// The connection stays usable.
	send(t, conn, `{"requestId":"r2","method":"ping","args":[]}`)
	if resp := recv(t, conn); resp.Kind != "reply" {
		t.Fatalf("follow-up = %+v", resp)
	}
}

func TestMalformedRequest(t *testing.T) {
	conn := dial(t)
	send(t, conn, `{"method":"ping"}`)
	resp := recv(t, conn)
	if resp.Kind != "error" {
		t.Fatalf("missing requestId accepted: %+v", resp)
	}

	send(t, conn, `not json at all`)
	if resp := recv(t, conn); resp.Kind != "error" {
		t.Fatalf("garbage accepted: %+v", resp)
	}
}

func TestBinaryFrameRejected(t *testing.T) {
	conn := dial(t)
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	resp := recv(t, conn)
	if resp.Kind != "error" {
		t.Fatalf("binary frame not rejected: %+v", resp)
	}

	send(t, conn, `{"requestId":"r1","method":"ping","args":[]}`)
	if resp := recv(t, conn); resp.Kind != "reply" {
		t.Fatalf("connection unusable after binary frame: %+v", resp)
	}
}

// echoTool answers with its input, for the stdio transport tests.
type echoTool struct{}

func (t *echoTool) Name() string            { return "echo" }
func (t *echoTool) Description() string     { return "echoes its input" }
func (t *echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *echoTool) Execute(_ context.Context, input json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "echo: " + string(input)}, nil
}

type echoServer struct{}

func (s *echoServer) Name() string        { return "echo" }
func (s *echoServer) Tools() []agent.Tool { return []agent.Tool{&echoTool{}} }

func TestServeStdio(t *testing.T) {
	in := strings.NewReader(
		`{"id":"1","method":"listTools"}` + "\n" +
			`{"id":"2","method":"callTool","params":{"name":"echo","input":{"x":1}}}` + "\n" +
			`{"id":"3","method":"callTool","params":{"name":"ghost"}}` + "\n")
	var out bytes.Buffer

	if err := ServeStdio(context.Background(), &echoServer{}, in, &out); err != nil {
		t.Fatalf("ServeStdio() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("replies = %d, want 3: %s", len(lines), out.String())
	}
	if !strings.Contains(lines[0], `"echo"`) || !strings.Contains(lines[0], "inputSchema") {
		t.Fatalf("listTools reply = %s", lines[0])
	}
	if !strings.Contains(lines[1], `echo: {\"x\":1}`) {
		t.Fatalf("callTool reply = %s", lines[1])
	}
	if !strings.Contains(lines[2], "unknown tool") {
		t.Fatalf("unknown tool reply = %s", lines[2])
	}
}
