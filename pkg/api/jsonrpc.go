package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/openvault/custody/pkg/vault"
)

// JSONRPCServer handles JSON-RPC 2.0 requests against a fund and its
// settlement engine.
type JSONRPCServer struct {
	fund   *vault.Fund
	engine *vault.SettlementEngine
	logger log.Logger
}

// NewJSONRPCServer creates a new JSON-RPC server.
func NewJSONRPCServer(fund *vault.Fund, engine *vault.SettlementEngine, logger log.Logger) *JSONRPCServer {
	if logger == nil {
		logger = log.Root().New("module", "api")
	}
	return &JSONRPCServer{
		fund:   fund,
		engine: engine,
		logger: logger,
	}
}

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements error interface
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC Error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// amountScale is the decimal exponent between human amounts and base units.
const amountScale = 18

func parseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return d.Shift(amountScale).BigInt(), nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -amountScale).String()
}

// ServeHTTP implements http.Handler
func (s *JSONRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, ParseError, "Parse error")
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, InvalidRequest, "Invalid Request")
		return
	}

	result, err := s.handleMethod(req.Method, req.Params)
	if err != nil {
		rpcErr, ok := err.(*RPCError)
		if !ok {
			rpcErr = &RPCError{Code: InternalError, Message: err.Error()}
		}
		s.sendError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *JSONRPCServer) handleMethod(method string, params json.RawMessage) (interface{}, error) {
	switch method {
	// Fund methods
	case "custody_deposit":
		return s.deposit(params)
	case "custody_withdraw":
		return s.withdraw(params)
	case "custody_moveToAgent":
		return s.moveToAgent(params)
	case "custody_returnFromAgent":
		return s.returnFromAgent(params)
	case "custody_returnAllCapital":
		return s.returnAllCapital(params)
	case "custody_withdrawFees":
		return s.withdrawFees(params)

	// Admin methods
	case "custody_addAgent":
		return s.agentChange(params, s.fund.AddAgent)
	case "custody_removeAgent":
		return s.agentChange(params, s.fund.RemoveAgent)
	case "custody_pause":
		return s.pauseChange(params, s.fund.Pause)
	case "custody_unpause":
		return s.pauseChange(params, s.fund.Unpause)
	case "custody_setManagementFee":
		return s.setBps(params, s.fund.SetManagementFee)
	case "custody_setWithdrawalFee":
		return s.setBps(params, s.fund.SetWithdrawalFee)
	case "custody_setMaxAllocation":
		return s.setBps(params, s.fund.SetMaxAllocation)
	case "custody_setMinDeposit":
		return s.setMinDeposit(params)
	case "custody_setFeeRecipient":
		return s.setFeeRecipient(params)

	// View methods
	case "custody_getSnapshot":
		return s.getSnapshot(params)
	case "custody_getSharePrice":
		return map[string]interface{}{"sharePrice": s.fund.GetSharePrice().String()}, nil
	case "custody_getNetAssets":
		return map[string]interface{}{"netAssets": formatAmount(s.fund.NetAssets())}, nil
	case "custody_getGrossAssets":
		return map[string]interface{}{"grossAssets": formatAmount(s.fund.GrossAssets())}, nil
	case "custody_getAvailableAssets":
		return map[string]interface{}{"availableAssets": formatAmount(s.fund.GetAvailableAssets())}, nil
	case "custody_getShareBalance":
		return s.getShareBalance(params)
	case "custody_getAgents":
		return map[string]interface{}{"agents": s.fund.GetAuthorizedAgents()}, nil
	case "custody_getAccruedFees":
		return s.getAccruedFees(params)

	// Settlement methods
	case "custody_settleTrade":
		return s.settleTrade(params)
	case "custody_getUserNonce":
		return s.getUserNonce(params)
	case "custody_isExecuted":
		return s.isExecuted(params)
	case "custody_checkAllowance":
		return s.checkFunds(params, s.engine.CheckAllowance)
	case "custody_checkBalance":
		return s.checkFunds(params, s.engine.CheckBalance)

	// Info methods
	case "custody_getInfo":
		return s.getInfo(params)
	case "custody_ping":
		return "pong", nil

	default:
		return nil, &RPCError{Code: MethodNotFound, Message: "Method not found"}
	}
}

func (s *JSONRPCServer) deposit(params json.RawMessage) (interface{}, error) {
	var p struct {
		Account string `json:"account"`
		Amount  string `json:"amount"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}

	shares, err := s.fund.Deposit(p.Account, amount)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{
		"account": p.Account,
		"shares":  shares.String(),
		"status":  "deposited",
	}, nil
}

func (s *JSONRPCServer) withdraw(params json.RawMessage) (interface{}, error) {
	var p struct {
		Account string `json:"account"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	paid, err := s.fund.Withdraw(p.Account)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{
		"account": p.Account,
		"paid":    formatAmount(paid),
		"status":  "withdrawn",
	}, nil
}

func (s *JSONRPCServer) moveToAgent(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller      string `json:"caller"`
		Amount      string `json:"amount"`
		Destination string `json:"destination"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}

	if err := s.fund.MoveToAgent(p.Caller, amount, p.Destination); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{
		"destination": p.Destination,
		"amount":      p.Amount,
		"status":      "allocated",
	}, nil
}

func (s *JSONRPCServer) returnFromAgent(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller string `json:"caller"`
		Amount string `json:"amount"`
		Profit string `json:"profit"`
		Source string `json:"source"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	profit := new(big.Int)
	if p.Profit != "" {
		if profit, err = parseAmount(p.Profit); err != nil {
			return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
		}
	}

	if err := s.fund.ReturnFromAgent(p.Caller, amount, profit, p.Source); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{
		"source": p.Source,
		"amount": p.Amount,
		"status": "returned",
	}, nil
}

func (s *JSONRPCServer) returnAllCapital(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller string `json:"caller"`
		Source string `json:"source"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	if err := s.fund.ReturnAllCapital(p.Caller, p.Source); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{
		"source": p.Source,
		"status": "returned",
	}, nil
}

func (s *JSONRPCServer) withdrawFees(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller string `json:"caller"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	paid, err := s.fund.WithdrawFees(p.Caller)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{
		"paid":   formatAmount(paid),
		"status": "withdrawn",
	}, nil
}

func (s *JSONRPCServer) agentChange(params json.RawMessage, apply func(caller, agent string) error) (interface{}, error) {
	var p struct {
		Caller string `json:"caller"`
		Agent  string `json:"agent"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	if err := apply(p.Caller, p.Agent); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{
		"agent":  p.Agent,
		"status": "ok",
	}, nil
}

func (s *JSONRPCServer) pauseChange(params json.RawMessage, apply func(caller string) error) (interface{}, error) {
	var p struct {
		Caller string `json:"caller"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	if err := apply(p.Caller); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{"status": "ok"}, nil
}

func (s *JSONRPCServer) setBps(params json.RawMessage, apply func(caller string, bps uint64) error) (interface{}, error) {
	var p struct {
		Caller string `json:"caller"`
		Bps    uint64 `json:"bps"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	if err := apply(p.Caller, p.Bps); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{
		"bps":    p.Bps,
		"status": "ok",
	}, nil
}

func (s *JSONRPCServer) setMinDeposit(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller string `json:"caller"`
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}

	if err := s.fund.SetMinDeposit(p.Caller, amount); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{"status": "ok"}, nil
}

func (s *JSONRPCServer) setFeeRecipient(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller    string `json:"caller"`
		Recipient string `json:"recipient"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	if err := s.fund.SetFeeRecipient(p.Caller, p.Recipient); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{"status": "ok"}, nil
}

func (s *JSONRPCServer) getSnapshot(params json.RawMessage) (interface{}, error) {
	snap := s.fund.Snapshot()
	return map[string]interface{}{
		"asset":                 snap.Asset,
		"grossAssets":           formatAmount(snap.GrossAssets),
		"netAssets":             formatAmount(snap.NetAssets),
		"totalShares":           snap.TotalShares.String(),
		"totalAllocated":        formatAmount(snap.TotalAllocated),
		"sharePrice":            snap.SharePrice.String(),
		"accruedManagementFees": formatAmount(snap.AccruedMgmtFees),
		"accruedOtherFees":      formatAmount(snap.AccruedOtherFees),
		"lastFeeCheckpoint":     snap.LastFeeCheckpoint.Unix(),
		"minDeposit":            formatAmount(snap.MinDeposit),
		"maxAllocationBps":      snap.MaxAllocationBps,
		"managementFeeBps":      snap.ManagementFeeBps,
		"withdrawalFeeBps":      snap.WithdrawalFeeBps,
		"feeRecipient":          snap.FeeRecipient,
		"paused":                snap.Paused,
		"agents":                snap.Agents,
	}, nil
}

func (s *JSONRPCServer) getShareBalance(params json.RawMessage) (interface{}, error) {
	var p struct {
		Account string `json:"account"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	return map[string]interface{}{
		"account": p.Account,
		"shares":  s.fund.ShareBalanceOf(p.Account).String(),
	}, nil
}

func (s *JSONRPCServer) getAccruedFees(params json.RawMessage) (interface{}, error) {
	mgmt, other := s.fund.AccruedFees()
	return map[string]interface{}{
		"management": formatAmount(mgmt),
		"other":      formatAmount(other),
		"total":      formatAmount(s.fund.GetTotalAccumulatedFees()),
	}, nil
}

func (s *JSONRPCServer) settleTrade(params json.RawMessage) (interface{}, error) {
	var inst vault.SettlementInstruction
	if err := json.Unmarshal(params, &inst); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	hash, err := s.engine.SettleTrade(inst)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{
		"tradeHash": "0x" + hex.EncodeToString(hash[:]),
		"status":    "settled",
	}, nil
}

func (s *JSONRPCServer) getUserNonce(params json.RawMessage) (interface{}, error) {
	var p struct {
		Account string `json:"account"`
		Asset   string `json:"asset"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	return map[string]interface{}{
		"account": p.Account,
		"asset":   p.Asset,
		"nonce":   s.engine.GetUserNonce(p.Account, p.Asset),
	}, nil
}

func (s *JSONRPCServer) isExecuted(params json.RawMessage) (interface{}, error) {
	var p struct {
		TradeHash string `json:"tradeHash"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	raw, err := hex.DecodeString(trimHexPrefix(p.TradeHash))
	if err != nil || len(raw) != 32 {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid trade hash"}
	}
	var hash [32]byte
	copy(hash[:], raw)

	return map[string]interface{}{
		"tradeHash": p.TradeHash,
		"executed":  s.engine.IsExecuted(hash),
	}, nil
}

func (s *JSONRPCServer) checkFunds(params json.RawMessage, check func(owner, asset string, amount *big.Int) (bool, *big.Int)) (interface{}, error) {
	var p struct {
		Account string `json:"account"`
		Asset   string `json:"asset"`
		Amount  string `json:"amount"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}

	ok, have := check(p.Account, p.Asset, amount)
	return map[string]interface{}{
		"sufficient": ok,
		"available":  formatAmount(have),
	}, nil
}

func (s *JSONRPCServer) getInfo(params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"version":   "1.0.0",
		"asset":     s.fund.Asset(),
		"fund":      s.fund.Address(),
		"engine":    s.engine.Address(),
		"timestamp": time.Now().Unix(),
	}, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func (s *JSONRPCServer) sendError(w http.ResponseWriter, id interface{}, code int, message string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
		ID: id,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// StartJSONRPCServer starts the JSON-RPC server and blocks until ctx ends.
func StartJSONRPCServer(ctx context.Context, port int, fund *vault.Fund, engine *vault.SettlementEngine, logger log.Logger) error {
	server := NewJSONRPCServer(fund, engine, logger)

	mux := http.NewServeMux()
	mux.Handle("/", server)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	logger.Info("JSON-RPC server started", "port", port)
	return httpServer.ListenAndServe()
}
