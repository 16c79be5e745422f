package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"

	"spotcheck/internal/analysis"
	"spotcheck/internal/config"
	"spotcheck/internal/metrics"
	"spotcheck/internal/model"
)

const analyzeBody = `{
  "source": "plan-a",
  "rows": [
    {"Channel": "RTL", "Airing date": "05.01.2024", "Airing time": "20:00", "Claim": "Summer Sale", "Spend": "100,00"},
    {"Channel": "RTL", "Airing date": "05.01.2024", "Airing time": "20:20", "Claim": "Summer Sale", "Spend": 200},
    {"Channel": "VOX", "Airing date": "05.01.2024", "Airing time": "21:00", "Claim": "Summer Sale", "Spend": "50"}
  ]
}`

const planCSV = "Channel;Airing date;Airing time;Claim;Spend\n" +
	"RTL;05.01.2024;20:00;Summer Sale;100,00\n" +
	"RTL;05.01.2024;20:20;Summer Sale;200,00\n"

func newTestServer(t *testing.T, mutate func(*config.Config)) http.Handler {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	reg := prometheus.NewRegistry()
	svc := analysis.NewService(analysis.Options{
		Config:    config.NewStaticManager(cfg),
		Collector: metrics.New(reg, metrics.NewStore(0)),
	})
	return NewServer(Options{Service: svc, Gatherer: reg, Version: "test"}).Routes()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealthAndStatus(t *testing.T) {
	h := newTestServer(t, nil)
	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var st statusResponse
	decode(t, rec, &st)
	if st.Version != "test" || st.Analysis.TimeWindowMinutes != 60 || st.Storage.Enabled {
		t.Fatalf("status body: %+v", st)
	}
}

func TestAnalyzeLifecycle(t *testing.T) {
	h := newTestServer(t, nil)
	rec := do(t, h, http.MethodPost, "/api/v1/analyze", analyzeBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze: %d %s", rec.Code, rec.Body.String())
	}
	var got model.AnalysisRecord
	decode(t, rec, &got)
	if got.ID == "" || got.Source != "plan-a" {
		t.Fatalf("record: %+v", got)
	}
	if got.Result.Metrics.TotalSpots != 3 || got.Result.Metrics.DoubleSpots != 2 {
		t.Fatalf("metrics: %+v", got.Result.Metrics)
	}
	if got.Result.Metrics.DoubleCost.StringFixed(2) != "300.00" {
		t.Fatalf("double cost: %s", got.Result.Metrics.DoubleCost.StringFixed(2))
	}

	rec = do(t, h, http.MethodGet, "/api/v1/analyses/"+got.ID+"?view=summary", "")
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), `"data"`) {
		t.Fatalf("summary view: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/v1/analyses", "")
	var list struct {
		Analyses []model.AnalysisSummary `json:"analyses"`
		Count    int                     `json:"count"`
	}
	decode(t, rec, &list)
	if list.Count != 1 || list.Analyses[0].ID != got.ID {
		t.Fatalf("list: %+v", list)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/channels", "")
	var channels struct {
		Channels []model.ChannelStats `json:"channels"`
	}
	decode(t, rec, &channels)
	if len(channels.Channels) != 2 || channels.Channels[0].Channel != "RTL" || channels.Channels[0].DoubleSpots != 2 {
		t.Fatalf("channels: %+v", channels)
	}

	if rec = do(t, h, http.MethodDelete, "/api/v1/analyses/"+got.ID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec = do(t, h, http.MethodGet, "/api/v1/analyses/"+got.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rec.Code)
	}
	if rec = do(t, h, http.MethodDelete, "/api/v1/analyses/"+got.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", rec.Code)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.API.MaxBodyBytes = 1024 })

	rec := do(t, h, http.MethodPost, "/api/v1/analyze", `{"config":{"time_window_minutes":200},"rows":[]}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "time_window_minutes") {
		t.Fatalf("invalid window: %d %s", rec.Code, rec.Body.String())
	}
	if rec = do(t, h, http.MethodPost, "/api/v1/analyze", `{"rows":`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: %d", rec.Code)
	}
	if rec = do(t, h, http.MethodPost, "/api/v1/analyze", `{"source":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing rows: %d", rec.Code)
	}
	big := `{"rows":[` + strings.Repeat(`{"Channel":"RTL"},`, 200) + `{}]}`
	if rec = do(t, h, http.MethodPost, "/api/v1/analyze", big); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body: %d", rec.Code)
	}
}

func TestAnalyzeCSVWithQueryOverrides(t *testing.T) {
	h := newTestServer(t, nil)
	rec := do(t, h, http.MethodPost, "/api/v1/analyze/csv?source=upload.csv&time_window_minutes=15&view=summary", planCSV)
	if rec.Code != http.StatusOK {
		t.Fatalf("csv: %d %s", rec.Code, rec.Body.String())
	}
	var sum model.AnalysisSummary
	decode(t, rec, &sum)
	if sum.Source != "upload.csv" || sum.Config.TimeWindowMinutes != 15 {
		t.Fatalf("summary: %+v", sum)
	}
	if sum.Metrics.TotalSpots != 2 || sum.Metrics.DoubleSpots != 0 {
		t.Fatalf("metrics: %+v", sum.Metrics)
	}
	if rec = do(t, h, http.MethodPost, "/api/v1/analyze/csv?same_day_only=maybe", planCSV); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad bool: %d", rec.Code)
	}
	if rec = do(t, h, http.MethodPost, "/api/v1/analyze/csv", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty csv: %d %s", rec.Code, rec.Body.String())
	}
}

func TestAnalyzeCSVRowLimit(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.Input.MaxRows = 1 })
	if rec := do(t, h, http.MethodPost, "/api/v1/analyze/csv", planCSV); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("row limit: %d %s", rec.Code, rec.Body.String())
	}
}

func TestAnalysisConfigUpdate(t *testing.T) {
	h := newTestServer(t, nil)
	rec := do(t, h, http.MethodPut, "/api/v1/config/analysis", `{"time_window_minutes":15}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodGet, "/api/v1/config/analysis", "")
	var body struct {
		Analysis model.AnalysisConfig `json:"analysis"`
	}
	decode(t, rec, &body)
	if body.Analysis.TimeWindowMinutes != 15 || body.Analysis.CreativeMatchMode != model.MatchExact {
		t.Fatalf("config: %+v", body.Analysis)
	}

	rec = do(t, h, http.MethodPut, "/api/v1/config/analysis", `{"creative_match_mode":"contains"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("contains without text: %d", rec.Code)
	}

	// New analyses pick up the updated window.
	rec = do(t, h, http.MethodPost, "/api/v1/analyze?view=summary", analyzeBody)
	var sum model.AnalysisSummary
	decode(t, rec, &sum)
	if sum.Config.TimeWindowMinutes != 15 || sum.Metrics.DoubleSpots != 0 {
		t.Fatalf("summary after update: %+v", sum)
	}
}

func TestMetricsAndClear(t *testing.T) {
	h := newTestServer(t, nil)
	do(t, h, http.MethodPost, "/api/v1/analyze", analyzeBody)
	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `spotcheck_analyses_total{outcome="ok"} 1`) {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body.String())
	}
	if rec = do(t, h, http.MethodPost, "/admin/clear", ""); rec.Code != http.StatusOK {
		t.Fatalf("clear: %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/v1/analyses", "")
	if !strings.Contains(rec.Body.String(), `"count":0`) {
		t.Fatalf("list after clear: %s", rec.Body.String())
	}
	rec = do(t, h, http.MethodGet, "/api/v1/channels/RTL/history", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":0`) {
		t.Fatalf("channel history without storage: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.API.RateLimit = 1 })
	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", rec.Code)
	}
}

func TestCORSAllowedOrigin(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.API.CORSOrigins = []string{"https://dash.example.com"} })
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example.com" {
		t.Fatalf("allow origin: %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://other.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin: %q", got)
	}
}
