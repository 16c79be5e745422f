package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"spotcheck/internal/model"
)

type Config struct {
	LogLevel  string               `json:"log_level" yaml:"log_level"`
	LogFormat string               `json:"log_format" yaml:"log_format"`
	Analysis  model.AnalysisConfig `json:"analysis" yaml:"analysis"`
	Input     InputConfig          `json:"input" yaml:"input"`
	API       APIConfig            `json:"api" yaml:"api"`
	Kafka     KafkaConfig          `json:"kafka" yaml:"kafka"`
	Storage   StorageConfig        `json:"storage" yaml:"storage"`
	History   HistoryConfig        `json:"history" yaml:"history"`
}

type InputConfig struct {
	Columns       ColumnMap           `json:"columns" yaml:"columns"`
	Timezone      string              `json:"timezone" yaml:"timezone"`
	CSVDelimiter  string              `json:"csv_delimiter" yaml:"csv_delimiter"`
	MaxRows       int                 `json:"max_rows" yaml:"max_rows"`
	ChannelFilter ChannelFilterConfig `json:"channel_filter" yaml:"channel_filter"`
}

// ColumnMap names the source column for each spot field. Timestamp wins over
// Date+Time when both are mapped and the row has a value for it.
type ColumnMap struct {
	Channel     string `json:"channel" yaml:"channel"`
	Timestamp   string `json:"timestamp,omitempty" yaml:"timestamp"`
	Date        string `json:"date" yaml:"date"`
	Time        string `json:"time" yaml:"time"`
	Cost        string `json:"cost" yaml:"cost"`
	Creative    string `json:"creative" yaml:"creative"`
	Program     string `json:"program" yaml:"program"`
	Duration    string `json:"duration,omitempty" yaml:"duration"`
	Daypart     string `json:"daypart,omitempty" yaml:"daypart"`
	EPGCategory string `json:"epg_category,omitempty" yaml:"epg_category"`
	Brand       string `json:"brand,omitempty" yaml:"brand"`
	Company     string `json:"company,omitempty" yaml:"company"`
	XRP         string `json:"xrp,omitempty" yaml:"xrp"`
	Reach       string `json:"reach,omitempty" yaml:"reach"`
}

type ChannelFilterConfig struct {
	Include []string `json:"include,omitempty" yaml:"include"`
	Exclude []string `json:"exclude,omitempty" yaml:"exclude"`
}

type APIConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Addr         string `json:"addr" yaml:"addr"`
	MaxBodyBytes int64  `json:"max_body_bytes" yaml:"max_body_bytes"`
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int `json:"rate_limit" yaml:"rate_limit"`
	// CORSOrigins enables CORS for the listed origins when non-empty.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins"`
}

type KafkaConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Brokers      []string      `json:"brokers" yaml:"brokers"`
	Topic        string        `json:"topic" yaml:"topic"`
	GroupID      string        `json:"group_id" yaml:"group_id"`
	ResultTopic  string        `json:"result_topic" yaml:"result_topic"`
	DedupeWindow time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type HistoryConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultColumnMap() ColumnMap {
	return ColumnMap{
		Channel:     "Channel",
		Date:        "Airing date",
		Time:        "Airing time",
		Cost:        "Spend",
		Creative:    "Claim",
		Program:     "EPG name",
		Duration:    "Duration",
		Daypart:     "Airing daypart",
		EPGCategory: "EPG category",
		Brand:       "Brand",
		Company:     "Company",
		XRP:         "XRP",
		Reach:       "Reach",
	}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Analysis:  model.DefaultAnalysisConfig(),
		Input: InputConfig{
			Columns:  DefaultColumnMap(),
			Timezone: "UTC",
			MaxRows:  500000,
		},
		API:     APIConfig{Enabled: true, Addr: ":8080", MaxBodyBytes: 32 << 20},
		Kafka:   KafkaConfig{Enabled: false, DedupeWindow: 10 * time.Minute},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:spotcheck.db?_pragma=busy_timeout(5000)"},
		History: HistoryConfig{StoreLimit: 200},
	}
}

// Load reads a YAML or JSON config file. Missing keys keep their defaults.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes content over DefaultConfig, fills remaining defaults and
// validates the result. JSON is detected by a leading brace or bracket.
func Parse(content []byte) (*Config, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, errors.New("config is empty")
	}
	cfg := DefaultConfig()
	var err error
	if trimmed[0] == '{' || trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, cfg)
	} else {
		err = yaml.Unmarshal(trimmed, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg next to path and renames it into place, so readers never
// see a partial file. A .json extension selects JSON, anything else YAML.
func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	default:
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func applyDefaults(cfg *Config) {
	if cfg.Analysis.TimeWindowMinutes == 0 {
		cfg.Analysis.TimeWindowMinutes = 60
	}
	if cfg.Analysis.CreativeMatchMode == "" {
		cfg.Analysis.CreativeMatchMode = model.MatchExact
	} else {
		cfg.Analysis.CreativeMatchMode = model.ParseMatchMode(string(cfg.Analysis.CreativeMatchMode))
	}
	if len(cfg.Analysis.Thresholds) == 0 {
		cfg.Analysis.Thresholds = append([]int(nil), model.DefaultThresholds...)
	}
	if cfg.Input.Columns.Channel == "" && cfg.Input.Columns.Timestamp == "" && cfg.Input.Columns.Date == "" {
		cfg.Input.Columns = DefaultColumnMap()
	}
	if cfg.Input.Timezone == "" {
		cfg.Input.Timezone = "UTC"
	}
	if cfg.History.StoreLimit <= 0 {
		cfg.History.StoreLimit = 200
	}
	if cfg.API.MaxBodyBytes <= 0 {
		cfg.API.MaxBodyBytes = 32 << 20
	}
	if cfg.Kafka.DedupeWindow < 0 {
		cfg.Kafka.DedupeWindow = 0
	}
}

func Validate(cfg *Config) error {
	if err := cfg.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" || cfg.Kafka.GroupID == "" {
			return errors.New("kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Input.Columns.Timestamp == "" && (cfg.Input.Columns.Date == "" || cfg.Input.Columns.Time == "") {
		return errors.New("input.columns needs timestamp or both date and time")
	}
	if _, err := time.LoadLocation(cfg.Input.Timezone); err != nil {
		return fmt.Errorf("input.timezone: %w", err)
	}
	if d := cfg.Input.CSVDelimiter; d != "" && d != "auto" && len([]rune(d)) != 1 && d != `\t` {
		return fmt.Errorf("input.csv_delimiter must be a single character, got %q", d)
	}
	if cfg.API.RateLimit < 0 {
		return errors.New("api.rate_limit must be >= 0")
	}
	if cfg.Input.MaxRows < 0 {
		return errors.New("input.max_rows must be >= 0")
	}
	return nil
}

// Manager serves the current config to concurrent readers and swaps it on
// Update or when the backing file changes.
type Manager struct {
	path    string
	current atomic.Pointer[Config]
	modTime atomic.Int64
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.current.Store(cfg)
	m.stamp()
	return m, nil
}

// NewStaticManager serves cfg without a backing file. Update keeps the new
// config in memory only.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.current.Store(cfg)
	return m
}

// Get returns the live config. Callers must not modify it; copy and Update
// instead.
func (m *Manager) Get() *Config {
	if cfg := m.current.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) stamp() {
	if m.path == "" {
		return
	}
	if info, err := os.Stat(m.path); err == nil {
		m.modTime.Store(info.ModTime().UnixNano())
	}
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.current.Store(cfg)
	m.stamp()
	return cfg, nil
}

// Update validates cfg, saves it when the manager has a file, and makes it
// current. An invalid cfg leaves the running config untouched.
func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.current.Store(cfg)
	m.stamp()
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().UnixNano() > m.modTime.Load(), nil
}

// Watch polls the file every interval until ctx is done. A file that fails
// to load is reported to onError and the previous config stays live.
func (m *Manager) Watch(ctx context.Context, interval time.Duration, onReload func(*Config), onError func(error)) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	report := func(err error) {
		if onError != nil {
			onError(err)
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		changed, err := m.NeedsReload()
		if err != nil {
			report(err)
			continue
		}
		if !changed {
			continue
		}
		cfg, err := m.Reload()
		if err != nil {
			// Stamp anyway so a broken file is reported once, not every tick.
			m.stamp()
			report(err)
			continue
		}
		if onReload != nil {
			onReload(cfg)
		}
	}
}

// ResolvePath makes a relative path absolute against the working directory.
func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
