// Package rpc is a small JSON-RPC 2.0 client used to reach the external
// ephemeris service that computes charts.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string      `json:"jsonrpc"` // Always "2.0"
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error object
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Standard and service-specific error codes
const (
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeChartNotFound  = 4004
)

// Ephemeris service methods
const (
	MethodGetChart = "chart/get"
)

// GetChartParams are the parameters of chart/get
type GetChartParams struct {
	ChartID string `json:"chart_id"`
}

// Caller sends one request and decodes its result
type Caller interface {
	Call(ctx context.Context, method string, params interface{}, result interface{}) error
	Close() error
}

// decode checks the response for an error and unmarshals its result
func decode(resp Response, result interface{}) error {
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}
