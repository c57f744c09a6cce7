package banano

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/holiman/uint256"
)

const maxResponseBytes = 8 << 20

// RPCError is an explicit error object returned by the node. For send calls it
// means the node refused the block, so no funds moved.
type RPCError struct {
	Action  string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("node rpc %s: %s", e.Action, e.Message)
}

// HistoryEntry is one block of an account's history, newest first.
type HistoryEntry struct {
	Type           string `json:"type"`
	Account        string `json:"account"`
	Amount         string `json:"amount"`
	LocalTimestamp int64  `json:"local_timestamp,string"`
	Hash           string `json:"hash"`
}

func (h HistoryEntry) Time() time.Time {
	return time.Unix(h.LocalTimestamp, 0)
}

// Client talks to a Banano node over its JSON action API.
type Client struct {
	url         string
	wallet      string
	http        *http.Client
	timeout     time.Duration
	sendTimeout time.Duration
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		if c != nil {
			client.http = c
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		if d > 0 {
			client.timeout = d
		}
	}
}

// WithSendTimeout bounds send and receive calls separately from reads.
func WithSendTimeout(d time.Duration) Option {
	return func(client *Client) {
		if d > 0 {
			client.sendTimeout = d
		}
	}
}

func NewClient(url, wallet string, opts ...Option) *Client {
	c := &Client{
		url:         url,
		wallet:      wallet,
		http:        &http.Client{},
		timeout:     10 * time.Second,
		sendTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AccountHistory returns the full history of account. An unopened account
// yields an empty slice and no error.
func (c *Client) AccountHistory(ctx context.Context, account string) ([]HistoryEntry, error) {
	var result struct {
		History optionalList[HistoryEntry] `json:"history"`
	}
	err := c.call(ctx, c.timeout, map[string]any{
		"action":  "account_history",
		"account": account,
		"count":   "-1",
	}, &result)
	if err != nil {
		return nil, err
	}
	return result.History, nil
}

// AccountBalance returns the confirmed balance and the receivable amount.
func (c *Client) AccountBalance(ctx context.Context, account string) (balance, pending *uint256.Int, err error) {
	var result struct {
		Balance    string `json:"balance"`
		Pending    string `json:"pending"`
		Receivable string `json:"receivable"`
	}
	err = c.call(ctx, c.timeout, map[string]any{
		"action":  "account_balance",
		"account": account,
	}, &result)
	if err != nil {
		return nil, nil, err
	}
	if balance, err = ParseRaw(result.Balance); err != nil {
		return nil, nil, err
	}
	receivable := result.Pending
	if receivable == "" {
		receivable = result.Receivable
	}
	if pending, err = ParseRaw(receivable); err != nil {
		return nil, nil, err
	}
	return balance, pending, nil
}

// Send moves amount raw from source to destination and returns the block hash.
// An *RPCError means the node rejected the send; any other error leaves the
// outcome unknown.
func (c *Client) Send(ctx context.Context, source, destination string, amount *uint256.Int) (string, error) {
	var result struct {
		Block string `json:"block"`
	}
	err := c.call(ctx, c.sendTimeout, map[string]any{
		"action":      "send",
		"wallet":      c.wallet,
		"source":      source,
		"destination": destination,
		"amount":      amount.Dec(),
	}, &result)
	if err != nil {
		return "", err
	}
	if result.Block == "" {
		return "", fmt.Errorf("node rpc send: response carried no block hash")
	}
	return result.Block, nil
}

// Pending lists receivable block hashes for account.
func (c *Client) Pending(ctx context.Context, account string, count int) ([]string, error) {
	var result struct {
		Blocks optionalList[string] `json:"blocks"`
	}
	err := c.call(ctx, c.timeout, map[string]any{
		"action":  "pending",
		"account": account,
		"count":   fmt.Sprint(count),
	}, &result)
	if err != nil {
		return nil, err
	}
	return result.Blocks, nil
}

// Receive pockets a single pending block into account.
func (c *Client) Receive(ctx context.Context, account, block string) (string, error) {
	var result struct {
		Block string `json:"block"`
	}
	err := c.call(ctx, c.sendTimeout, map[string]any{
		"action":  "receive",
		"wallet":  c.wallet,
		"account": account,
		"block":   block,
	}, &result)
	if err != nil {
		return "", err
	}
	return result.Block, nil
}

func (c *Client) call(ctx context.Context, timeout time.Duration, body map[string]any, out any) error {
	action, _ := body["action"].(string)
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("node rpc %s: %w", action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("node rpc %s: read response: %w", action, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node rpc %s failed: status=%d", action, resp.StatusCode)
	}
	var rpcErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &rpcErr) == nil && rpcErr.Error != "" {
		return &RPCError{Action: action, Message: rpcErr.Error}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("node rpc %s: decode response: %w", action, err)
	}
	return nil
}

// optionalList decodes node lists that are sent as "" when empty.
type optionalList[T any] []T

func (l *optionalList[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == `""` || string(trimmed) == "null" {
		*l = nil
		return nil
	}
	var items []T
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return err
	}
	*l = items
	return nil
}
