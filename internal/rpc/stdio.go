package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/haasonsaas/hearth/internal/agent"
)

// stdioRequest is one NDJSON request line.
type stdioRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// stdioResponse is one NDJSON reply line.
type stdioResponse struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type stdioToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type stdioCallParams struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type stdioCallResult struct {
	Content string `json:"content"`
	IsError bool   `json:"isError"`
}

// ServeStdio mounts one tool server on a newline-delimited JSON
// transport, so external processes can list and call its tools. Returns
// when the input stream ends or ctx is cancelled.
func ServeStdio(ctx context.Context, server agent.ToolServer, in io.Reader, out io.Writer) error {
	tools := make(map[string]agent.Tool)
	var specs []stdioToolSpec
	for _, tool := range server.Tools() {
		tools[tool.Name()] = tool
		specs = append(specs, stdioToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.Schema(),
		})
	}

	var writeMu sync.Mutex
	encoder := json.NewEncoder(out)
	send := func(resp stdioResponse) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = encoder.Encode(resp)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req stdioRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			send(stdioResponse{Error: fmt.Sprintf("malformed request: %v", err)})
			continue
		}

		switch req.Method {
		case "listTools":
			send(stdioResponse{ID: req.ID, Result: specs})
		case "callTool":
			var params stdioCallParams
			if err := json.Unmarshal(req.Params, &params); err != nil {
				send(stdioResponse{ID: req.ID, Error: fmt.Sprintf("invalid params: %v", err)})
				continue
			}
			tool, ok := tools[params.Name]
			if !ok {
				send(stdioResponse{ID: req.ID, Error: fmt.Sprintf("unknown tool %q", params.Name)})
				continue
			}
			input := params.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			result, err := tool.Execute(ctx, input)
			if err != nil {
				send(stdioResponse{ID: req.ID, Error: err.Error()})
				continue
			}
			send(stdioResponse{ID: req.ID, Result: stdioCallResult{
				Content: result.Content,
				IsError: result.IsError,
			}})
		default:
			send(stdioResponse{ID: req.ID, Error: fmt.Sprintf("unknown method %q", req.Method)})
		}
	}
	return scanner.Err()
}
