package chart

import (
	"context"
	"errors"
	"fmt"

	"Rectify/internal/rpc"
)

// RPCProvider fetches charts from an ephemeris service over JSON-RPC
type RPCProvider struct {
	caller rpc.Caller
}

// NewRPCProvider creates a provider backed by caller
func NewRPCProvider(caller rpc.Caller) *RPCProvider {
	return &RPCProvider{caller: caller}
}

// GetChart calls chart/get for id
func (p *RPCProvider) GetChart(ctx context.Context, id string) (Context, error) {
	var c Context
	err := p.caller.Call(ctx, rpc.MethodGetChart, rpc.GetChartParams{ChartID: id}, &c)
	if err != nil {
		var rpcErr *rpc.Error
		if errors.As(err, &rpcErr) && rpcErr.Code == rpc.CodeChartNotFound {
			return Context{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Context{}, fmt.Errorf("failed to fetch chart %s: %w", id, err)
	}
	if c.ID == "" {
		c.ID = id
	}
	return c, nil
}
