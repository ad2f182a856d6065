// Package toolhost is a thin client for the single always-on tool-server
// subprocess (spec §4.3), built on the official MCP Go SDK's stdio
// transport. Every call this package exposes is expected to be gated by
// the permission gate before being invoked — toolhost itself has no
// authorization concerns, it only speaks the wire protocol.
package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolInfo is a tool advertised by the tool-server's tools/list response.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Client owns a single connection to the tool-server subprocess. It is
// safe for concurrent use; CallTool/ListTools share the underlying
// session, which the SDK itself serializes.
type Client struct {
	command string
	args    []string
	env     map[string]string

	mu      sync.Mutex
	sdk     *mcpsdk.Client
	session *mcpsdk.ClientSession
}

// New constructs a Client that will launch command with args when
// [Client.Connect] is called.
func New(command string, args []string, env map[string]string) *Client {
	return &Client{command: command, args: args, env: env}
}

// Connect spawns the tool-server child over stdio, performs the
// initialize/notifications-initialized handshake, and leaves the client
// ready to serve ListTools/CallTool. Calling Connect again replaces any
// existing connection.
func (c *Client) Connect(ctx context.Context) error {
	if c.command == "" {
		return fmt.Errorf("toolhost: no command configured")
	}

	cmd := exec.CommandContext(ctx, c.command, c.args...)
	for k, v := range c.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	transport := &mcpsdk.CommandTransport{Command: cmd}

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "sentrycore-toolhost", Version: "1.0.0"}, nil)

	session, err := sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("toolhost: connect to tool-server: %w", err)
	}

	c.mu.Lock()
	if c.session != nil {
		_ = c.session.Close()
	}
	c.sdk = sdkClient
	c.session = session
	c.mu.Unlock()

	return nil
}

// Close terminates the connection to the tool-server, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

// ListTools returns the tool-server's advertised tool catalogue.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	session, err := c.activeSession()
	if err != nil {
		return nil, err
	}

	var tools []ToolInfo
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("toolhost: list tools: %w", err)
		}
		tools = append(tools, ToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
		})
	}
	return tools, nil
}

// CallTool invokes the named tool with JSON-object arguments and returns
// the canonical result text: the concatenation of any text content parts
// (spec §4.3 "Tool result extraction"), newline-joined. argsJSON must be a
// JSON object; "{}" is valid for parameter-less tools.
func (c *Client) CallTool(ctx context.Context, name string, argsJSON string) (string, error) {
	session, err := c.activeSession()
	if err != nil {
		return "", err
	}

	var argsMap map[string]any
	if trimmed := strings.TrimSpace(argsJSON); trimmed != "" && trimmed != "{}" {
		if err := json.Unmarshal([]byte(trimmed), &argsMap); err != nil {
			return "", fmt.Errorf("toolhost: invalid arguments JSON for tool %q: %w", name, err)
		}
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: argsMap})
	if err != nil {
		return "", fmt.Errorf("MCP error: %v", err)
	}
	if result.IsError {
		return "", fmt.Errorf("MCP error: tool %q reported an application-level error", name)
	}

	var lines []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			lines = append(lines, tc.Text)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Client) activeSession() (*mcpsdk.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, fmt.Errorf("toolhost: not connected")
	}
	return c.session, nil
}
