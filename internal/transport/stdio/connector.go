// Package stdio implements core.Transport over a long-lived child
// process speaking line-delimited JSON-RPC on stdin/stdout, grounded
// on the MCP-Scooter discovery engine's PersistentWorker/stdio-worker
// pattern (exec a program, keep it running, call tools by writing a
// JSON-RPC request and reading one response line back).
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/lizzyg/toolrouter/internal/core"
)

// Connector opens a stdio-based MCP server process per TransportSpec.
type Connector struct{}

// New builds a stdio Connector.
func New() *Connector { return &Connector{} }

// Open starts spec.Program with spec.Args and returns a Binding whose
// Connection kills the process and whose tool list is populated by a
// "list_tools" JSON-RPC call against the fresh process.
func (c *Connector) Open(ctx context.Context, spec core.TransportSpec) (*core.Binding, error) {
	cmd := exec.Command(spec.Program, spec.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("stdio: start %s: %w", spec.Program, err)
	}

	worker := &process{
		cmd:    cmd,
		stdin:  stdin,
		reader: bufio.NewReader(stdout),
	}

	tools, err := worker.listTools()
	if err != nil {
		_ = worker.Close()
		return nil, fmt.Errorf("stdio: list_tools: %w", err)
	}

	return &core.Binding{Connection: worker, Tools: tools}, nil
}

// process is a live child process and its JSON-RPC transcript.
type process struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  interface{ Write([]byte) (int, error) }
	reader *bufio.Reader
}

type rpcRequest struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type toolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

func (p *process) listTools() ([]core.ToolDescriptor, error) {
	resp, err := p.call("list_tools", nil)
	if err != nil {
		return nil, err
	}
	var specs []toolSpec
	if err := json.Unmarshal(resp, &specs); err != nil {
		return nil, fmt.Errorf("stdio: decode tool list: %w", err)
	}
	out := make([]core.ToolDescriptor, len(specs))
	for i, s := range specs {
		name := s.Name
		out[i] = core.ToolDescriptor{
			Name:        name,
			Description: s.Description,
			Schema:      s.Schema,
			Invoke: func(ctx context.Context, args []byte) (any, error) {
				var params any
				if len(args) > 0 {
					if err := json.Unmarshal(args, &params); err != nil {
						return nil, fmt.Errorf("stdio: decode call args: %w", err)
					}
				}
				result, err := p.call(name, map[string]any{"name": name, "arguments": params})
				if err != nil {
					return nil, err
				}
				var out any
				if err := json.Unmarshal(result, &out); err != nil {
					return nil, fmt.Errorf("stdio: decode call result: %w", err)
				}
				return out, nil
			},
		}
	}
	return out, nil
}

// call sends one JSON-RPC request and reads one newline-delimited
// response. Held behind a mutex since the process only speaks one
// request at a time.
func (p *process) call(method string, params any) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req, err := json.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("stdio: marshal request: %w", err)
	}
	req = append(req, '\n')
	if _, err := p.stdin.Write(req); err != nil {
		return nil, fmt.Errorf("stdio: write request: %w", err)
	}

	line, err := p.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("stdio: read response: %w", err)
	}
	var resp rpcResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("stdio: decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("stdio: rpc error: %s", resp.Error.Message)
	}
	return resp.Result, nil
}

// Close terminates the child process.
func (p *process) Close() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
