package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"spotcheck/internal/analysis"
	"spotcheck/internal/config"
	"spotcheck/internal/ingest"
	"spotcheck/internal/model"
)

type statusResponse struct {
	Status     string               `json:"status"`
	Time       string               `json:"time"`
	Started    string               `json:"started"`
	Version    string               `json:"version"`
	ConfigPath string               `json:"config_path"`
	Analysis   model.AnalysisConfig `json:"analysis"`
	History    historyStatus        `json:"history"`
	Storage    storageStatus        `json:"storage"`
	Kafka      kafkaStatus          `json:"kafka"`
}

type historyStatus struct {
	Records int `json:"records"`
	Limit   int `json:"limit"`
}

type storageStatus struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver,omitempty"`
}

type kafkaStatus struct {
	Enabled     bool   `json:"enabled"`
	Topic       string `json:"topic,omitempty"`
	ResultTopic string `json:"result_topic,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Started:    s.started.Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Analysis:   cfg.Analysis,
		History:    historyStatus{Records: s.service.HistoryLen(), Limit: cfg.History.StoreLimit},
		Storage:    storageStatus{Enabled: s.service.StorageEnabled()},
		Kafka:      kafkaStatus{Enabled: cfg.Kafka.Enabled, Topic: cfg.Kafka.Topic, ResultTopic: cfg.Kafka.ResultTopic},
	}
	if resp.Storage.Enabled {
		resp.Storage.Driver = cfg.Storage.Driver
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.Get().API.MaxBodyBytes))
	if err != nil {
		s.writeError(w, err)
		return
	}
	req, err := ingest.DecodeRequest(body)
	if err != nil {
		s.writeInputError(w, err)
		return
	}
	rec, err := s.service.Run(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeRecord(w, r, http.StatusOK, rec)
}

// handleAnalyzeCSV takes the spreadsheet as the request body. Analysis
// overrides come from query parameters.
func (s *Server) handleAnalyzeCSV(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	overrides, err := overridesFromQuery(q.Get)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	cfg := s.cfg.Get()
	delimiter := cfg.Input.CSVDelimiter
	if d := q.Get("delimiter"); d != "" {
		delimiter = d
	}
	rows, err := ingest.ReadCSV(http.MaxBytesReader(w, r.Body, cfg.API.MaxBodyBytes), delimiter, cfg.Input.MaxRows)
	if err != nil {
		s.writeInputError(w, err)
		return
	}
	source := q.Get("source")
	if source == "" {
		source = "csv"
	}
	rec, err := s.service.Run(r.Context(), analysis.Request{Source: source, Config: overrides, Rows: rows})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeRecord(w, r, http.StatusOK, rec)
}

func overridesFromQuery(get func(string) string) (*analysis.Overrides, error) {
	o := &analysis.Overrides{}
	if v := get("time_window_minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, &model.ConfigError{Field: "time_window_minutes", Reason: "must be an integer"}
		}
		o.TimeWindowMinutes = &n
	}
	if v := get("creative_match_mode"); v != "" {
		o.CreativeMatchMode = &v
	}
	if v := get("creative_match_text"); v != "" {
		o.CreativeMatchText = &v
	}
	if v := get("same_day_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &model.ConfigError{Field: "same_day_only", Reason: "must be a boolean"}
		}
		o.SameDayOnly = &b
	}
	if v := get("thresholds"); v != "" {
		for _, part := range strings.Split(v, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, &model.ConfigError{Field: "thresholds_minutes", Reason: "must be a comma separated list of integers"}
			}
			o.Thresholds = append(o.Thresholds, n)
		}
	}
	if v := get("timezone"); v != "" {
		o.Timezone = &v
	}
	if v := get("exclude"); v != "" {
		o.ChannelFilter = &config.ChannelFilterConfig{Exclude: strings.Split(v, ",")}
	}
	if v := get("include"); v != "" {
		if o.ChannelFilter == nil {
			o.ChannelFilter = &config.ChannelFilterConfig{}
		}
		o.ChannelFilter.Include = strings.Split(v, ",")
	}
	return o, nil
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "since must be an RFC3339 timestamp"})
			return
		}
		since = ts
	}
	list, err := s.service.List(r.Context(), limit, since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"analyses": list,
		"count":    len(list),
	})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeRecord(w, r, http.StatusOK, rec)
}

func (s *Server) handleDeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	channels := s.service.Channels()
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": channels,
		"count":    len(channels),
	})
}

func (s *Server) handleChannelHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	channel := chi.URLParam(r, "channel")
	rows, err := s.service.ChannelHistory(r.Context(), channel, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel": channel,
		"history": rows,
		"count":   len(rows),
	})
}

func (s *Server) handleGetAnalysisConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"analysis": s.cfg.Get().Analysis})
}

func (s *Server) handlePutAnalysisConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.writeError(w, err)
		return
	}
	// Fields absent from the body keep their current value.
	next := s.cfg.Get().Analysis
	next.Thresholds = append([]int(nil), next.Thresholds...)
	if err := json.Unmarshal(body, &next); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	next.CreativeMatchMode = model.ParseMatchMode(string(next.CreativeMatchMode))
	if len(next.Thresholds) == 0 {
		next.Thresholds = append([]int(nil), model.DefaultThresholds...)
	}
	if err := next.Validate(); err != nil {
		s.writeError(w, err)
		return
	}
	updated := *s.cfg.Get()
	updated.Analysis = next
	if err := s.cfg.Update(&updated); err != nil {
		s.writeError(w, err)
		return
	}
	if s.logger != nil {
		s.logger.Info("analysis config updated", "window_minutes", next.TimeWindowMinutes, "mode", string(next.CreativeMatchMode))
	}
	writeJSON(w, http.StatusOK, map[string]any{"analysis": next})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.service.ClearHistory()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// writeInputError reports a body that could not be parsed. Size limits keep
// their own status.
func (s *Server) writeInputError(w http.ResponseWriter, err error) {
	if tooLarge(err) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(err))
		return
	}
	writeJSON(w, http.StatusBadRequest, errorBody(err))
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidConfiguration):
		writeJSON(w, http.StatusBadRequest, errorBody(err))
	case errors.Is(err, analysis.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err))
	case tooLarge(err):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(err))
	default:
		if s.logger != nil {
			s.logger.Error("request failed", "err", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.Is(err, analysis.ErrTooManyRows) || errors.As(err, &maxErr)
}

func errorBody(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}

// writeRecord honours ?view=summary, which drops per-spot data.
func writeRecord(w http.ResponseWriter, r *http.Request, status int, rec *model.AnalysisRecord) {
	if r.URL.Query().Get("view") == "summary" {
		writeJSON(w, status, rec.Summary())
		return
	}
	writeJSON(w, status, rec)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
