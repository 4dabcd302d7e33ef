package chart

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Rectify/internal/apperr"
	"Rectify/internal/rpc"
)

func sampleChart() Context {
	return Context{
		ID:    "c1",
		Birth: BirthDetails{Date: "1990-05-14", Time: "14:15", Place: "Lyon"},
		Planets: []Planet{
			{Name: "Sun", Sign: "Taurus", House: 9, Degree: 53.2},
			{Name: "Moon", Sign: "Cancer", House: 11, Degree: 101.7},
		},
		Houses: []House{
			{Number: 1, Sign: "Virgo", Cusp: 172.4},
			{Number: 10, Sign: "Gemini", Cusp: 80.1},
		},
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, sampleChart().Validate())

	c := sampleChart()
	c.Houses = nil
	err := c.Validate()
	assert.ErrorIs(t, err, apperr.ErrInvalidChartContext)

	c = sampleChart()
	c.Houses = append(c.Houses, House{Number: 13})
	assert.ErrorIs(t, c.Validate(), apperr.ErrInvalidChartContext)
}

func TestAscendant(t *testing.T) {
	asc, ok := sampleChart().Ascendant()
	require.True(t, ok)
	assert.InDelta(t, 172.4, asc, 1e-9)
	assert.Equal(t, "Virgo", SignOf(asc))

	c := Context{Planets: []Planet{{Name: "ascendant", Degree: 361}}}
	asc, ok = c.Ascendant()
	require.True(t, ok)
	assert.InDelta(t, 1.0, asc, 1e-9)

	_, ok = Context{}.Ascendant()
	assert.False(t, ok)
}

func TestGeometry(t *testing.T) {
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"normalize negative", Normalize(-10), 350},
		{"normalize wrap", Normalize(725), 5},
		{"degree in sign", DegreeInSign(95.5), 5.5},
		{"distance across zero", Distance(355, 5), 10},
		{"distance opposite", Distance(0, 180), 180},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.got, 1e-9)
		})
	}
	assert.Equal(t, "Pisces", SignOf(359.9))
	assert.Equal(t, 0, SignIndex(360))
}

func TestSummary(t *testing.T) {
	s := sampleChart().Summary()
	assert.Contains(t, s, "Birth: 1990-05-14 14:15 at Lyon")
	assert.Contains(t, s, "Ascendant: Virgo 22.4°")
	assert.Contains(t, s, "Moon in Cancer (house 11")
}

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider(sampleChart())
	c, err := p.GetChart(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)

	_, err = p.GetChart(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	doc := `
birth:
  date: "1990-05-14"
  time: "14:15"
planets:
  - name: Moon
    sign: Cancer
    house: 11
    degree: 101.7
houses:
  - number: 1
    sign: Virgo
    cusp: 172.4
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "natal.yml"), []byte(doc), 0o644))

	p := NewFileProvider(dir)
	c, err := p.GetChart(context.Background(), "natal")
	require.NoError(t, err)
	assert.Equal(t, "natal", c.ID)
	assert.Equal(t, "14:15", c.Birth.Time)
	require.Len(t, c.Planets, 1)
	assert.InDelta(t, 101.7, c.Planets[0].Degree, 1e-9)

	_, err = p.GetChart(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = p.GetChart(context.Background(), "../natal")
	assert.Error(t, err)
}

type countingProvider struct {
	calls int
	next  Provider
}

func (c *countingProvider) GetChart(ctx context.Context, id string) (Context, error) {
	c.calls++
	return c.next.GetChart(ctx, id)
}

func TestCachingProvider(t *testing.T) {
	inner := &countingProvider{next: NewMemoryProvider(sampleChart())}
	p, err := NewCachingProvider(inner, 4)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := p.GetChart(context.Background(), "c1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.calls)

	_, err = p.GetChart(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _ = p.GetChart(context.Background(), "missing")
	assert.Equal(t, 3, inner.calls)
}

func TestRPCProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rpc", r.URL.Path)
		body, _ := io.ReadAll(r.Body)

		var req struct {
			ID     int                `json:"id"`
			Method string             `json:"method"`
			Params rpc.GetChartParams `json:"params"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, rpc.MethodGetChart, req.Method)

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if req.Params.ChartID == "c1" {
			c := sampleChart()
			c.ID = ""
			resp["result"] = c
		} else {
			resp["error"] = map[string]interface{}{"code": rpc.CodeChartNotFound, "message": "no such chart"}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := rpc.NewHTTPClient(srv.URL, 5*time.Second, logger)
	require.NoError(t, err)

	p := NewRPCProvider(client)
	c, err := p.GetChart(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
	assert.Len(t, c.Houses, 2)

	_, err = p.GetChart(context.Background(), "c2")
	assert.True(t, errors.Is(err, ErrNotFound))
}
