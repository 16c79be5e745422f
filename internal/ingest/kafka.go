package ingest

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"spotcheck/internal/analysis"
	"spotcheck/internal/config"
	"spotcheck/internal/metrics"
	"spotcheck/internal/model"
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Runner interface {
	Run(ctx context.Context, req analysis.Request) (*model.AnalysisRecord, error)
}

// Consumer turns Kafka messages into analyses. Each message is a JSON
// request, or a CSV file when its content-type header says so.
type Consumer struct {
	reader    MessageReader
	writer    MessageWriter
	runner    Runner
	dedupe    *DedupeCache
	window    time.Duration
	csv       func() (string, int)
	collector *metrics.Collector
	logger    *slog.Logger
	now       func() time.Time
}

type ConsumerOptions struct {
	DedupeWindow time.Duration
	Input        func() config.InputConfig
	Collector    *metrics.Collector
	Logger       *slog.Logger
}

func NewConsumer(reader MessageReader, writer MessageWriter, runner Runner, opts ConsumerOptions) *Consumer {
	csvOpts := func() (string, int) { return "", 0 }
	if opts.Input != nil {
		csvOpts = func() (string, int) {
			in := opts.Input()
			return in.CSVDelimiter, in.MaxRows
		}
	}
	return &Consumer{
		reader:    reader,
		writer:    writer,
		runner:    runner,
		dedupe:    NewDedupeCache(),
		window:    opts.DedupeWindow,
		csv:       csvOpts,
		collector: opts.Collector,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

// StartKafka launches the consumer when kafka is enabled and returns it, or
// nil otherwise.
func StartKafka(ctx context.Context, cfg *config.Manager, runner Runner, collector *metrics.Collector, logger *slog.Logger) *Consumer {
	current := cfg.Get().Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID, "result_topic", current.ResultTopic)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 64e6,
	})
	var writer MessageWriter
	if current.ResultTopic != "" {
		writer = &kafka.Writer{
			Addr:                   kafka.TCP(current.Brokers...),
			Topic:                  current.ResultTopic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		}
	}
	c := NewConsumer(reader, writer, runner, ConsumerOptions{
		DedupeWindow: current.DedupeWindow,
		Input:        func() config.InputConfig { return cfg.Get().Input },
		Collector:    collector,
		Logger:       logger,
	})
	go func() {
		if err := c.Run(ctx); err != nil && logger != nil {
			logger.Error("kafka consumer stopped", "err", err)
		}
	}()
	return c
}

// Run consumes until ctx is done. Messages are committed once handled, so a
// crash mid-analysis leads to redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.close()
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if c.logger != nil {
				c.logger.Warn("kafka read error", "err", err)
			}
			if !BackoffSleep(ctx, 500*time.Millisecond) {
				return nil
			}
			continue
		}
		if !c.Handle(ctx, m) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if c.logger != nil {
				c.logger.Warn("kafka commit error", "offset", m.Offset, "err", err)
			}
		}
	}
}

// Handle processes one message and reports whether it may be committed.
func (c *Consumer) Handle(ctx context.Context, m kafka.Message) bool {
	if c.dedupe.Seen(Fingerprint(m.Value), c.now(), c.window) {
		c.record("duplicate")
		if c.logger != nil {
			c.logger.Debug("kafka duplicate skipped", "offset", m.Offset, "key", string(m.Key))
		}
		return true
	}
	req, err := c.decode(m)
	if err != nil {
		if errors.Is(err, analysis.ErrTooManyRows) {
			c.record("rejected")
		} else {
			c.record("malformed")
		}
		if c.logger != nil {
			c.logger.Warn("kafka message malformed", "offset", m.Offset, "err", err)
		}
		return true
	}
	rec, err := c.runner.Run(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		outcome := "failed"
		if errors.Is(err, model.ErrInvalidConfiguration) || errors.Is(err, analysis.ErrTooManyRows) {
			outcome = "rejected"
		}
		c.record(outcome)
		if c.logger != nil {
			c.logger.Warn("kafka analysis failed", "offset", m.Offset, "err", err)
		}
		return true
	}
	c.record("ok")
	c.publish(ctx, rec)
	return true
}

func (c *Consumer) decode(m kafka.Message) (analysis.Request, error) {
	if isCSV(m.Headers) {
		delimiter, maxRows := c.csv()
		rows, err := ReadCSV(bytes.NewReader(m.Value), delimiter, maxRows)
		if err != nil {
			return analysis.Request{}, err
		}
		source := headerValue(m.Headers, "source")
		if source == "" {
			source = string(m.Key)
		}
		return analysis.Request{Source: source, Rows: rows}, nil
	}
	req, err := DecodeRequest(m.Value)
	if err != nil {
		return req, err
	}
	if req.Source == "" {
		req.Source = string(m.Key)
	}
	return req, nil
}

func (c *Consumer) publish(ctx context.Context, rec *model.AnalysisRecord) {
	if c.writer == nil {
		return
	}
	payload, err := json.Marshal(rec.Summary())
	if err != nil {
		if c.logger != nil {
			c.logger.Error("encode analysis summary", "analysis_id", rec.ID, "err", err)
		}
		return
	}
	msg := kafka.Message{
		Key:     []byte(rec.ID),
		Value:   payload,
		Headers: []kafka.Header{{Key: "content-type", Value: []byte("application/json")}},
	}
	for attempt := 1; attempt <= 3; attempt++ {
		err = c.writer.WriteMessages(ctx, msg)
		if err == nil {
			return
		}
		if !BackoffSleep(ctx, time.Duration(attempt)*200*time.Millisecond) {
			break
		}
	}
	if c.logger != nil {
		c.logger.Error("publish analysis summary failed", "analysis_id", rec.ID, "err", err)
	}
}

func (c *Consumer) record(outcome string) {
	if c.collector != nil {
		c.collector.RecordKafka(outcome)
	}
}

func (c *Consumer) close() {
	if c.reader != nil {
		_ = c.reader.Close()
	}
	if c.writer != nil {
		_ = c.writer.Close()
	}
}

func isCSV(headers []kafka.Header) bool {
	ct := strings.ToLower(headerValue(headers, "content-type"))
	return strings.Contains(ct, "csv")
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Key, key) {
			return string(h.Value)
		}
	}
	return ""
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
