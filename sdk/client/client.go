// Package client provides a Go SDK for the custody node's JSON-RPC API
// and WebSocket event feed.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openvault/custody/pkg/vault"
)

// Client talks to a custody node.
type Client struct {
	jsonRPCURL string
	wsURL      string

	httpClient *http.Client
	idCounter  uint64

	wsConn      *websocket.Conn
	wsCallbacks map[string]func(interface{})
	wsMu        sync.RWMutex
	wsRunning   bool
	wsStop      chan struct{}

	mu sync.RWMutex
}

// NewClient creates a client with the given options.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		jsonRPCURL:  "http://localhost:8080",
		wsURL:       "ws://localhost:8081/ws",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		wsCallbacks: make(map[string]func(interface{})),
		wsStop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Option is a client configuration option.
type Option func(*Client)

// WithJSONRPCURL sets the JSON-RPC URL.
func WithJSONRPCURL(url string) Option {
	return func(c *Client) {
		c.jsonRPCURL = url
	}
}

// WithWebSocketURL sets the WebSocket feed URL.
func WithWebSocketURL(url string) Option {
	return func(c *Client) {
		c.wsURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// ConnectWebSocket establishes the event feed connection.
func (c *Client) ConnectWebSocket(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wsConn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	c.wsConn = conn
	c.wsRunning = true

	go c.handleWebSocketMessages()
	return nil
}

func (c *Client) handleWebSocketMessages() {
	defer func() {
		c.mu.Lock()
		c.wsRunning = false
		c.wsConn.Close()
		c.wsConn = nil
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.wsStop:
			return
		default:
			c.wsConn.SetReadDeadline(time.Now().Add(60 * time.Second))

			var msg map[string]interface{}
			if err := c.wsConn.ReadJSON(&msg); err != nil {
				return
			}

			if channel, ok := msg["channel"].(string); ok {
				c.wsMu.RLock()
				callback := c.wsCallbacks[channel]
				if callback == nil {
					callback = c.wsCallbacks["*"]
				}
				c.wsMu.RUnlock()
				if callback != nil {
					go callback(msg["data"])
				}
			}
		}
	}
}

// Disconnect closes all connections.
func (c *Client) Disconnect() error {
	if c.wsRunning {
		close(c.wsStop)
		c.mu.Lock()
		if c.wsConn != nil {
			c.wsConn.Close()
		}
		c.mu.Unlock()
	}
	return nil
}

// SubscribeEvents registers a callback for one event channel and tells the
// node to start delivering it. Use "*" for every channel.
func (c *Client) SubscribeEvents(channel string, callback func(interface{})) error {
	c.wsMu.Lock()
	c.wsCallbacks[channel] = callback
	c.wsMu.Unlock()

	msg := map[string]interface{}{
		"type":     "subscribe",
		"channels": []string{channel},
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.wsConn == nil {
		return fmt.Errorf("WebSocket not connected")
	}
	return c.wsConn.WriteJSON(msg)
}

// UnsubscribeEvents drops a channel subscription.
func (c *Client) UnsubscribeEvents(channel string) error {
	c.wsMu.Lock()
	delete(c.wsCallbacks, channel)
	c.wsMu.Unlock()

	msg := map[string]interface{}{
		"type":     "unsubscribe",
		"channels": []string{channel},
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.wsConn == nil {
		return nil
	}
	return c.wsConn.WriteJSON(msg)
}

// Deposit deposits amount (decimal string, e.g. "100.5") for account.
func (c *Client) Deposit(ctx context.Context, account, amount string) (*DepositResult, error) {
	params := map[string]interface{}{
		"account": account,
		"amount":  amount,
	}
	var result DepositResult
	if err := c.callJSONRPC(ctx, "custody_deposit", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Withdraw redeems the caller's entire share balance.
func (c *Client) Withdraw(ctx context.Context, account string) (*WithdrawResult, error) {
	params := map[string]interface{}{
		"account": account,
	}
	var result WithdrawResult
	if err := c.callJSONRPC(ctx, "custody_withdraw", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MoveToAgent allocates fund capital to an external wallet.
func (c *Client) MoveToAgent(ctx context.Context, caller, amount, destination string) error {
	params := map[string]interface{}{
		"caller":      caller,
		"amount":      amount,
		"destination": destination,
	}
	return c.callJSONRPC(ctx, "custody_moveToAgent", params, nil)
}

// ReturnFromAgent pulls capital back from an external wallet.
func (c *Client) ReturnFromAgent(ctx context.Context, caller, amount, profit, source string) error {
	params := map[string]interface{}{
		"caller": caller,
		"amount": amount,
		"profit": profit,
		"source": source,
	}
	return c.callJSONRPC(ctx, "custody_returnFromAgent", params, nil)
}

// ReturnAllCapital sweeps a wallet's full balance back into the fund.
func (c *Client) ReturnAllCapital(ctx context.Context, caller, source string) error {
	params := map[string]interface{}{
		"caller": caller,
		"source": source,
	}
	return c.callJSONRPC(ctx, "custody_returnAllCapital", params, nil)
}

// WithdrawFees collects accrued fees to the fee recipient.
func (c *Client) WithdrawFees(ctx context.Context, caller string) (*FeeWithdrawalResult, error) {
	params := map[string]interface{}{
		"caller": caller,
	}
	var result FeeWithdrawalResult
	if err := c.callJSONRPC(ctx, "custody_withdrawFees", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AddAgent authorizes an agent.
func (c *Client) AddAgent(ctx context.Context, caller, agent string) error {
	return c.callJSONRPC(ctx, "custody_addAgent", map[string]interface{}{
		"caller": caller,
		"agent":  agent,
	}, nil)
}

// RemoveAgent revokes an agent.
func (c *Client) RemoveAgent(ctx context.Context, caller, agent string) error {
	return c.callJSONRPC(ctx, "custody_removeAgent", map[string]interface{}{
		"caller": caller,
		"agent":  agent,
	}, nil)
}

// Pause halts deposits and allocations.
func (c *Client) Pause(ctx context.Context, caller string) error {
	return c.callJSONRPC(ctx, "custody_pause", map[string]interface{}{"caller": caller}, nil)
}

// Unpause resumes normal operation.
func (c *Client) Unpause(ctx context.Context, caller string) error {
	return c.callJSONRPC(ctx, "custody_unpause", map[string]interface{}{"caller": caller}, nil)
}

// GetSnapshot fetches the fund's full state summary.
func (c *Client) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	var result Snapshot
	if err := c.callJSONRPC(ctx, "custody_getSnapshot", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetShareBalance fetches an account's share balance.
func (c *Client) GetShareBalance(ctx context.Context, account string) (string, error) {
	var result struct {
		Shares string `json:"shares"`
	}
	params := map[string]interface{}{"account": account}
	if err := c.callJSONRPC(ctx, "custody_getShareBalance", params, &result); err != nil {
		return "", err
	}
	return result.Shares, nil
}

// GetAgents fetches the authorized agent list.
func (c *Client) GetAgents(ctx context.Context) ([]string, error) {
	var result struct {
		Agents []string `json:"agents"`
	}
	if err := c.callJSONRPC(ctx, "custody_getAgents", nil, &result); err != nil {
		return nil, err
	}
	return result.Agents, nil
}

// SettleTrade submits a signed bilateral settlement instruction.
func (c *Client) SettleTrade(ctx context.Context, inst vault.SettlementInstruction) (*SettlementResult, error) {
	var result SettlementResult
	if err := c.callJSONRPC(ctx, "custody_settleTrade", inst, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetUserNonce fetches the expected nonce for an account and asset.
func (c *Client) GetUserNonce(ctx context.Context, account, asset string) (uint64, error) {
	var result struct {
		Nonce uint64 `json:"nonce"`
	}
	params := map[string]interface{}{
		"account": account,
		"asset":   asset,
	}
	if err := c.callJSONRPC(ctx, "custody_getUserNonce", params, &result); err != nil {
		return 0, err
	}
	return result.Nonce, nil
}

// IsExecuted reports whether a trade hash has already settled.
func (c *Client) IsExecuted(ctx context.Context, tradeHash string) (bool, error) {
	var result struct {
		Executed bool `json:"executed"`
	}
	params := map[string]interface{}{"tradeHash": tradeHash}
	if err := c.callJSONRPC(ctx, "custody_isExecuted", params, &result); err != nil {
		return false, err
	}
	return result.Executed, nil
}

// Ping checks if the node is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var result string
	return c.callJSONRPC(ctx, "custody_ping", nil, &result)
}

// GetInfo retrieves node information.
func (c *Client) GetInfo(ctx context.Context) (*NodeInfo, error) {
	var result NodeInfo
	if err := c.callJSONRPC(ctx, "custody_getInfo", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) callJSONRPC(ctx context.Context, method string, params interface{}, result interface{}) error {
	id := atomic.AddUint64(&c.idCounter, 1)

	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      id,
	}

	reqBody, err := json.Marshal(request)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.jsonRPCURL+"/rpc", bytes.NewBuffer(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var response struct {
		Result interface{} `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		ID uint64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return err
	}
	if response.Error != nil {
		return fmt.Errorf("RPC error %d: %s", response.Error.Code, response.Error.Message)
	}

	if result != nil {
		resultBytes, _ := json.Marshal(response.Result)
		return json.Unmarshal(resultBytes, result)
	}
	return nil
}
