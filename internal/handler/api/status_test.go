package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/service/ratelimit"
	"SignalGate/internal/services/aggregator"
	"SignalGate/internal/services/detectors"
	"SignalGate/internal/services/risk"
	"SignalGate/internal/usecase"
	"SignalGate/pkg/config"
	xhttp "SignalGate/pkg/http"
	xlogger "SignalGate/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	srv      *xhttp.Server
	deps     Deps
	log      *xlogger.Logger
	mirror   *fakeMirror
	recorder *usecase.SignalRecorder
}

type fakeMirror struct {
	deleted []string
	err     error
}

func (m *fakeMirror) Save(context.Context, models.CooldownEntry) error { return nil }
func (m *fakeMirror) Load(context.Context, string) (models.CooldownEntry, bool, error) {
	return models.CooldownEntry{}, false, nil
}
func (m *fakeMirror) Delete(_ context.Context, symbol string) error {
	m.deleted = append(m.deleted, symbol)
	return m.err
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	cfg := config.Default()
	set, err := detectors.Build(cfg.Detectors)
	require.NoError(t, err)

	f := &fixture{log: xlogger.Nop(), mirror: &fakeMirror{}}
	f.recorder = usecase.NewSignalRecorder(nil, nil, nil, nil, 10, 0)
	f.deps = Deps{
		Regime:     risk.NewRegimeFilter(cfg.Regime, nil),
		Latency:    risk.NewLatencyManager(cfg.Latency, nil),
		Cooldowns:  risk.NewCooldownManager(cfg.Cooldown, nil),
		Slippage:   risk.NewSlippageAnalyzer(cfg.Slippage, nil),
		Aggregator: aggregator.New(cfg.Aggregator, nil),
		Detectors:  set,
		Recorder:   f.recorder,
		Mirror:     f.mirror,
		Clock:      func() time.Time { return now },
	}
	if mutate != nil {
		mutate(&f.deps)
	}
	reg := prometheus.NewRegistry()
	f.srv = xhttp.NewServer([]xhttp.ServerOption{xhttp.WithMetrics(reg, reg)}, NewStatusHandler(f.log, f.deps))
	return f
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.srv.Echo().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v), string(raw))
}

func TestHealth(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Checks = map[string]HealthCheck{
			"redis":      func(context.Context) error { return nil },
			"clickhouse": func(context.Context) error { return errors.New("connection refused") },
		}
	})

	code, env := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, http.StatusServiceUnavailable, env.Status)
	var checks map[string]string
	decode(t, env.Data, &checks)
	assert.Equal(t, "ok", checks["redis"])
	assert.Equal(t, "connection refused", checks["clickhouse"])

	f = newFixture(t, nil)
	code, _ = f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestRegimeEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	code, env := f.do(t, http.MethodGet, "/api/v1/regime", "")
	require.Equal(t, http.StatusOK, code)
	var status models.RegimeStatus
	decode(t, env.Data, &status)
	assert.Equal(t, models.RegimeNormal, status.Current)

	code, env = f.do(t, http.MethodGet, "/api/v1/regime/history", "")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Rows  []models.RegimeChange `json:"rows"`
		Total int64                 `json:"total"`
	}
	decode(t, env.Data, &list)
	assert.Zero(t, list.Total)

	code, env = f.do(t, http.MethodGet, "/api/v1/regime/history?limit=0", "")
	assert.Equal(t, http.StatusOK, code, "zero takes the default")

	code, env = f.do(t, http.MethodGet, "/api/v1/regime/history?limit=5000", "")
	assert.Equal(t, http.StatusBadRequest, code)
	var verrs []xhttp.ValidationError
	decode(t, env.Data, &verrs)
	require.Len(t, verrs, 1)
	assert.Equal(t, "ERR_LTE", verrs[0].Code)
	assert.Equal(t, "limit", verrs[0].Field)
}

func TestLatencyEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.do(t, http.MethodGet, "/api/v1/latency/network", "")
	assert.Equal(t, http.StatusNotFound, code)

	f.deps.Latency.Record("network", 30)
	code, env := f.do(t, http.MethodGet, "/api/v1/latency/network", "")
	require.Equal(t, http.StatusOK, code)
	var stats models.LatencyStats
	decode(t, env.Data, &stats)
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 30.0, stats.Max)

	code, env = f.do(t, http.MethodGet, "/api/v1/latency", "")
	require.Equal(t, http.StatusOK, code)
	var report models.LatencyReportSummary
	decode(t, env.Data, &report)
	assert.Equal(t, 1.0, report.OverallFactor)
	assert.Contains(t, report.Components, "network")
}

func TestCooldownEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	f.deps.Cooldowns.SetCooldown("BTCUSDT", 10*time.Minute, now.Add(-time.Minute))

	code, env := f.do(t, http.MethodGet, "/api/v1/cooldowns/btcusdt", "")
	require.Equal(t, http.StatusOK, code)
	var view CooldownView
	decode(t, env.Data, &view)
	assert.Equal(t, "BTCUSDT", view.Symbol)
	assert.True(t, view.Active)
	assert.Equal(t, 9*time.Minute, view.Remaining)

	code, env = f.do(t, http.MethodGet, "/api/v1/cooldowns", "")
	require.Equal(t, http.StatusOK, code)
	var all CooldownsView
	decode(t, env.Data, &all)
	require.Len(t, all.Active, 1)
	assert.EqualValues(t, 1, all.Stats.TotalSet)

	code, _ = f.do(t, http.MethodDelete, "/api/v1/cooldowns/BTCUSDT", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"BTCUSDT"}, f.mirror.deleted)

	code, _ = f.do(t, http.MethodDelete, "/api/v1/cooldowns/BTCUSDT", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCooldownMirrorFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.mirror.err = errors.New("redis down")

	code, env := f.do(t, http.MethodDelete, "/api/v1/cooldowns/ETHUSDT", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	var errs []xhttp.AppError
	decode(t, env.Data, &errs)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_UNAVAILABLE", errs[0].Code)
}

func TestCooldownResult(t *testing.T) {
	f := newFixture(t, nil)

	code, env := f.do(t, http.MethodPost, "/api/v1/cooldowns/SOLUSDT/result", `{"profit":0.02}`)
	require.Equal(t, http.StatusBadRequest, code)
	var verrs []xhttp.ValidationError
	decode(t, env.Data, &verrs)
	require.Len(t, verrs, 1)
	assert.Equal(t, "ERR_REQUIRED", verrs[0].Code)
	assert.Equal(t, "success", verrs[0].Field)

	code, env = f.do(t, http.MethodPost, "/api/v1/cooldowns/SOLUSDT/result", `{"success":true,"profit":0.02}`)
	require.Equal(t, http.StatusOK, code)
	var view CooldownView
	decode(t, env.Data, &view)
	require.NotNil(t, view.SuccessRate)
	assert.Equal(t, 1, view.SuccessRate.Signals)
	assert.Equal(t, 1.0, view.SuccessRate.Rate)
}

func TestRecentSignals(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, sym := range []string{"BTCUSDT", "ETHUSDT", "BTCUSDT"} {
		require.NoError(t, f.recorder.RecordDecision(ctx, &models.Decision{Symbol: sym, Timestamp: time.Now()}))
	}

	code, env := f.do(t, http.MethodGet, "/api/v1/signals/recent?symbol=btcusdt&since=10m", "")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Rows  []models.Decision `json:"rows"`
		Total int64             `json:"total"`
	}
	decode(t, env.Data, &list)
	assert.EqualValues(t, 2, list.Total)
	for _, d := range list.Rows {
		assert.Equal(t, "BTCUSDT", d.Symbol)
	}

	code, env = f.do(t, http.MethodGet, "/api/v1/signals/recent?symbol=XRPUSDT", "")
	require.Equal(t, http.StatusOK, code)
	decode(t, env.Data, &list)
	assert.Zero(t, list.Total)
	assert.NotNil(t, list.Rows)
}

func TestSignalStats(t *testing.T) {
	f := newFixture(t, nil)

	code, env := f.do(t, http.MethodGet, "/api/v1/signals/stats", "")
	require.Equal(t, http.StatusOK, code)
	var view SignalStatsView
	decode(t, env.Data, &view)
	assert.Len(t, view.Detectors, 3)
	assert.Equal(t, 2, view.Aggregator.Threshold)
	assert.Equal(t, models.RegimeNormal, view.Regime)
	assert.Empty(t, view.Symbols)
}

const thinBook = `"bids":[[99.9,10],[99.8,10]],"asks":[[100.1,1],[100.2,1],[100.5,10]]`

func TestSlippageEstimate(t *testing.T) {
	f := newFixture(t, nil)

	code, env := f.do(t, http.MethodPost, "/api/v1/slippage/estimate",
		`{"symbol":"BTCUSDT","side":"buy","size":500,`+thinBook+`,"impact_sizes":[100,5000]}`)
	require.Equal(t, http.StatusOK, code)
	var view SlippageEstimateView
	decode(t, env.Data, &view)
	assert.Equal(t, models.SlippageOK, view.Status)
	assert.Greater(t, view.Slippage, 0.0)
	assert.Greater(t, view.LevelsConsumed, 1)
	require.Len(t, view.Impact, 2)
	assert.Less(t, view.Impact[0].Slippage, view.Impact[1].Slippage)

	code, _ = f.do(t, http.MethodPost, "/api/v1/slippage/estimate",
		`{"symbol":"BTCUSDT","side":"buy","size":500,"bids":[[99.9,1]],"asks":[]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, env = f.do(t, http.MethodPost, "/api/v1/slippage/estimate",
		`{"symbol":"BTCUSDT","side":"hold","size":500,`+thinBook+`}`)
	require.Equal(t, http.StatusBadRequest, code)
	var verrs []xhttp.ValidationError
	decode(t, env.Data, &verrs)
	require.Len(t, verrs, 1)
	assert.Equal(t, "ERR_ONEOF", verrs[0].Code)

	code, _ = f.do(t, http.MethodPost, "/api/v1/slippage/estimate",
		`{"symbol":"BTCUSDT","side":"buy","size":500,"bids":[[101,1]],"asks":[[100,1]]}`)
	assert.Equal(t, http.StatusBadRequest, code, "crossed book")
}

func TestSlippageOptimal(t *testing.T) {
	f := newFixture(t, nil)

	code, env := f.do(t, http.MethodPost, "/api/v1/slippage/optimal",
		`{"symbol":"BTCUSDT","side":"buy",`+thinBook+`}`)
	require.Equal(t, http.StatusOK, code)
	var view OptimalSizeView
	decode(t, env.Data, &view)
	assert.Equal(t, 0.02, view.MaxSlippage, "default ceiling")
	assert.GreaterOrEqual(t, view.SizeUSD, 100.0)
}

func TestSlippageThrottle(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Limiter = ratelimit.New(0.001, 1) })
	body := `{"symbol":"BTCUSDT","side":"buy",` + thinBook + `}`

	code, _ := f.do(t, http.MethodPost, "/api/v1/slippage/optimal", body)
	assert.Equal(t, http.StatusOK, code)
	code, env := f.do(t, http.MethodPost, "/api/v1/slippage/optimal", body)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, http.StatusTooManyRequests, env.Status)
}

func TestErrorLogs(t *testing.T) {
	f := newFixture(t, nil)
	col := f.log.AddCollector(&xlogger.CollectionConfig{TimeInterval: time.Hour})
	defer f.log.RemoveCollector()
	require.NotNil(t, col)

	for i := 0; i < 2; i++ {
		f.log.Error("sink failed", xlogger.String("sink", "clickhouse"))
	}
	f.log.Warn("slow")

	code, env := f.do(t, http.MethodGet, "/api/v1/logs/errors", "")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Rows  []xlogger.AggregatedLogEntry `json:"rows"`
		Total int64                        `json:"total"`
	}
	decode(t, env.Data, &list)
	require.EqualValues(t, 1, list.Total)
	assert.Equal(t, "sink failed", list.Rows[0].Message)
	assert.Equal(t, 2, list.Rows[0].Count)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodGet, "/api/v1/regime", "")

	rec := httptest.NewRecorder()
	f.srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `signalgate_http_requests_total{method="GET",route="/api/v1/regime",status="200"} 1`)
}
