// File: internal/mcp/client.go

// Package mcp is a JSON-RPC 2.0 client for Model Context Protocol
// servers. Plan steps name the servers they need; the client maps those
// names to configured base URLs and invokes tools over HTTP.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/intentc/api/schemas"
	"github.com/xkilldash9x/intentc/internal/config"
)

// ErrUnknownServer is returned when a tool call names a server that is
// not configured.
var ErrUnknownServer = errors.New("unknown MCP server")

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int64     `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

// rpcParams carries the MCP tools/call payload.
type rpcParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Client invokes tools on configured MCP servers.
type Client struct {
	servers    map[string]string
	httpClient *http.Client
	logger     *zap.Logger
	nextID     atomic.Int64
	// backoffFactory builds the retry policy per call. Tests override it
	// to avoid real exponential waits.
	backoffFactory func() backoff.BackOff
}

var _ schemas.ToolInvoker = (*Client)(nil)

// NewClient builds a Client from the MCP section of the configuration.
func NewClient(cfg config.MCPConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	servers := make(map[string]string, len(cfg.Servers))
	for name, baseURL := range cfg.Servers {
		if baseURL == "" {
			return nil, fmt.Errorf("MCP server %q has an empty base URL", name)
		}
		servers[name] = baseURL
	}

	return &Client{
		servers:    servers,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("mcp_client"),
		backoffFactory: func() backoff.BackOff {
			rc := schemas.DefaultRetryConfig()
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Duration(rc.BackoffMs) * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return backoff.WithMaxRetries(b, uint64(rc.MaxRetries))
		},
	}, nil
}

// Servers returns the names of the configured servers.
func (c *Client) Servers() []string {
	names := make([]string, 0, len(c.servers))
	for name := range c.servers {
		names = append(names, name)
	}
	return names
}

// Invoke calls the named tool on the named server via tools/call and
// returns the raw JSON-RPC result. Transient transport failures and
// retryable status codes are retried; RPC-level errors are not.
func (c *Client) Invoke(ctx context.Context, server, tool string, args map[string]any) (json.RawMessage, error) {
	baseURL, ok := c.servers[server]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownServer, server)
	}

	payload := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "tools/call",
		Params:  rpcParams{Name: tool, Arguments: args},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RPC request: %w", err)
	}

	retryable := schemas.DefaultRetryConfig()
	var result json.RawMessage

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			c.logger.Warn("MCP request transport failure",
				zap.String("server", server), zap.String("tool", tool), zap.Error(err))
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		c.logger.Debug("MCP call finished",
			zap.String("server", server),
			zap.String("tool", tool),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", time.Since(startTime)))

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("server %q returned status %d", server, resp.StatusCode)
			if retryable.ShouldRetry(resp.StatusCode) {
				return err
			}
			return backoff.Permanent(err)
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode RPC response: %w", err))
		}
		if rpcResp.Error != nil {
			return backoff.Permanent(rpcResp.Error)
		}

		result = rpcResp.Result
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backoffFactory(), ctx)); err != nil {
		return nil, fmt.Errorf("MCP call %s/%s failed: %w", server, tool, err)
	}
	return result, nil
}
