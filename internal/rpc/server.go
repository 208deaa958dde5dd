// Package rpc is the WebSocket control surface: JSON text frames carry
// requests to reflected handler methods; channel-returning methods
// stream their elements.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/hearth/internal/observability"
)

// Request is one inbound frame.
type Request struct {
	RequestID string            `json:"requestId"`
	Method    string            `json:"method"`
	Args      []json.RawMessage `json:"args"`
}

// Response is one outbound frame. Kind is reply, item, end or error.
type Response struct {
	RequestID string `json:"requestId"`
	Kind      string `json:"kind"`
	Object    any    `json:"object"`
}

// ErrorObject is the error envelope payload.
type ErrorObject struct {
	Message string `json:"message"`
	Name    string `json:"name"`
	Stack   string `json:"stack,omitempty"`
}

const requestSchema = `{
  "type": "object",
  "required": ["requestId", "method"],
  "properties": {
    "requestId": { "type": "string", "minLength": 1 },
    "method": { "type": "string", "minLength": 1 },
    "args": { "type": "array" }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
)

func schema() *jsonschema.Schema {
	schemaOnce.Do(func() {
		compiledSchema = jsonschema.MustCompileString("request.json", requestSchema)
	})
	return compiledSchema
}

// Server dispatches frames to a handler's exported methods. The wire
// method name is the Go name with a lowered first letter.
type Server struct {
	methods     map[string]reflect.Value
	upgrader    websocket.Upgrader
	logger      *slog.Logger
	metrics     *observability.Metrics
	development bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics attaches the process metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithStacks includes Go stacks in error envelopes. Off in production.
func WithStacks() Option {
	return func(s *Server) { s.development = true }
}

// NewServer collects handler's exported methods by reflection.
func NewServer(handler any, opts ...Option) *Server {
	s := &Server{
		methods: make(map[string]reflect.Value),
		logger:  slog.Default(),
		// The multiplexer binds to loopback; origin checks add nothing.
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	value := reflect.ValueOf(handler)
	typ := value.Type()
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !method.IsExported() {
			continue
		}
		wireName := strings.ToLower(method.Name[:1]) + method.Name[1:]
		s.methods[wireName] = value.Method(i)
	}
	return s
}

// ServeHTTP upgrades the connection and serves frames until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// One writer at a time; streams run concurrently.
	var writeMu sync.Mutex
	send := func(resp Response) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(resp); err != nil {
			s.logger.Warn("write failed", "error", err)
		}
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			send(s.errorResponse("", fmt.Errorf("binary frames are not supported"), "BadRequest"))
			continue
		}

		req, err := s.parseRequest(payload)
		if err != nil {
			send(s.errorResponse(req.RequestID, err, "BadRequest"))
			continue
		}

		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			s.dispatch(ctx, req, send)
		}(req)
	}
}

// parseRequest unmarshals and schema-validates one frame. The returned
// Request carries whatever requestId could be salvaged for the error
// envelope.
func (s *Server) parseRequest(payload []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("malformed request: %w", err)
	}
	var loose any
	if err := json.Unmarshal(payload, &loose); err != nil {
		return req, fmt.Errorf("malformed request: %w", err)
	}
	if err := schema().Validate(loose); err != nil {
		return req, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}

func (s *Server) dispatch(ctx context.Context, req Request, send func(Response)) {
	ctx, span := observability.StartSpan(ctx, "rpc.request",
		attribute.String("rpc.method", req.Method))
	defer span.End()

	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			s.logger.Error("handler panicked", "method", req.Method, "panic", r)
			send(s.errorResponse(req.RequestID, fmt.Errorf("internal error: %v", r), "InternalError"))
		}
		if s.metrics != nil {
			s.metrics.RPCRequests.WithLabelValues(req.Method, status).Inc()
		}
	}()

	method, ok := s.methods[req.Method]
	if !ok {
		status = "unknown"
		send(s.errorResponse(req.RequestID, fmt.Errorf("unknown method %q", req.Method), "UnknownMethod"))
		return
	}

	args, err := s.buildArgs(ctx, method.Type(), req.Args)
	if err != nil {
		status = "badargs"
		send(s.errorResponse(req.RequestID, err, "BadRequest"))
		return
	}

	results := method.Call(args)

	// A trailing error return aborts before any payload.
	if n := len(results); n > 0 {
		if last := results[n-1]; last.Type() == errorType {
			if !last.IsNil() {
				status = "error"
				send(s.errorResponse(req.RequestID, last.Interface().(error), "HandlerError"))
				return
			}
			results = results[:n-1]
		}
	}

	if len(results) == 1 && results[0].Kind() == reflect.Chan {
		s.stream(req.RequestID, results[0], send)
		return
	}

	var object any
	if len(results) > 0 {
		object = results[0].Interface()
	}
	send(Response{RequestID: req.RequestID, Kind: "reply", Object: object})
}

// stream forwards channel elements as item frames, then end. An element
// that is itself an error replaces end with an error envelope.
func (s *Server) stream(requestID string, ch reflect.Value, send func(Response)) {
	for {
		value, ok := ch.Recv()
		if !ok {
			send(Response{RequestID: requestID, Kind: "end", Object: nil})
			return
		}
		if err, isErr := value.Interface().(error); isErr {
			send(s.errorResponse(requestID, err, "StreamError"))
			return
		}
		send(Response{RequestID: requestID, Kind: "item", Object: value.Interface()})
	}
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

func (s *Server) buildArgs(ctx context.Context, methodType reflect.Type, raw []json.RawMessage) ([]reflect.Value, error) {
	args := make([]reflect.Value, 0, methodType.NumIn())
	next := 0
	for i := 0; i < methodType.NumIn(); i++ {
		paramType := methodType.In(i)
		if i == 0 && paramType == contextType {
			args = append(args, reflect.ValueOf(ctx))
			continue
		}
		if next >= len(raw) {
			return nil, fmt.Errorf("missing argument %d", next)
		}
		arg := reflect.New(paramType)
		if err := json.Unmarshal(raw[next], arg.Interface()); err != nil {
			return nil, fmt.Errorf("argument %d: %w", next, err)
		}
		args = append(args, arg.Elem())
		next++
	}
	if next < len(raw) {
		return nil, fmt.Errorf("too many arguments: got %d, want %d", len(raw), next)
	}
	return args, nil
}

func (s *Server) errorResponse(requestID string, err error, name string) Response {
	obj := ErrorObject{Message: err.Error(), Name: name}
	if s.development {
		obj.Stack = string(debug.Stack())
	}
	return Response{RequestID: requestID, Kind: "error", Object: obj}
}
