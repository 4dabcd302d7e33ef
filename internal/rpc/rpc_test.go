package rpc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPClientCall(t *testing.T) {
	var ids []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		ids = append(ids, req.ID)
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		json.NewEncoder(w).Encode(Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  json.RawMessage(`{"echo":"` + req.Method + `"}`),
		})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL+"/", time.Second, discardLogger())
	require.NoError(t, err)

	var out struct {
		Echo string `json:"echo"`
	}
	require.NoError(t, c.Call(context.Background(), "chart/get", nil, &out))
	assert.Equal(t, "chart/get", out.Echo)
	require.NoError(t, c.Call(context.Background(), "chart/get", nil, nil))
	assert.Equal(t, []int{1, 2}, ids)
}

func TestHTTPClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "rpc error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":4004,"message":"missing"}}`))
			},
			check: func(t *testing.T, err error) {
				var rpcErr *Error
				require.ErrorAs(t, err, &rpcErr)
				assert.Equal(t, CodeChartNotFound, rpcErr.Code)
			},
		},
		{
			name: "http status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusBadGateway)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "HTTP error 502")
			},
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "failed to unmarshal response")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			c, err := NewHTTPClient(srv.URL, time.Second, discardLogger())
			require.NoError(t, err)
			tt.check(t, c.Call(context.Background(), MethodGetChart, GetChartParams{ChartID: "x"}, nil))
		})
	}
}

func TestNewHTTPClientValidation(t *testing.T) {
	_, err := NewHTTPClient("http://x", time.Second, nil)
	assert.Error(t, err)
	_, err = NewHTTPClient("  ", time.Second, discardLogger())
	assert.Error(t, err)
}
