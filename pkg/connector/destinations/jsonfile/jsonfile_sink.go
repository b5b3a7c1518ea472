// Package jsonfile provides a file-backed sink that appends structured
// records as JSON lines, optionally gzip-compressed. Unlike the memory
// sink it is append-only: last-write-wins resolution for duplicate ids
// is left to whatever consumes the file.
package jsonfile

import (
	"bufio"
	"context"
	"os"
	"sync"

	gojson "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/datapex/batchflow/pkg/config"
	"github.com/datapex/batchflow/pkg/connector/core"
	"github.com/datapex/batchflow/pkg/connector/registry"
	"github.com/datapex/batchflow/pkg/errors"
	"github.com/datapex/batchflow/pkg/logger"
	"github.com/datapex/batchflow/pkg/models"
)

func init() {
	registry.RegisterSink(config.SinkTypeJSONFile, func(cfg config.SinkConfig) (core.Sink, error) {
		return New(cfg)
	})
}

// Sink writes records as newline-delimited JSON. Writes within one
// BulkWrite are buffered and flushed together, so a marshal or write
// error surfaces before any bytes of the failing batch reach the file
// buffer's flush.
type Sink struct {
	path     string
	compress bool
	logger   *zap.Logger

	mu     sync.Mutex
	file   *os.File
	gz     *gzip.Writer
	writer *bufio.Writer
	closed bool
}

// New creates the output file, truncating any existing content.
func New(cfg config.SinkConfig) (*Sink, error) {
	file, err := os.Create(cfg.Path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSinkWrite, "failed to create output file").
			WithDetail("path", cfg.Path)
	}

	s := &Sink{
		path:     cfg.Path,
		compress: cfg.Compress,
		file:     file,
		logger: logger.With(
			zap.String("sink", config.SinkTypeJSONFile),
			zap.String("path", cfg.Path),
			zap.Bool("compress", cfg.Compress)),
	}

	if cfg.Compress {
		s.gz = gzip.NewWriter(file)
		s.writer = bufio.NewWriter(s.gz)
	} else {
		s.writer = bufio.NewWriter(file)
	}
	return s, nil
}

// Name returns the sink type name.
func (s *Sink) Name() string { return config.SinkTypeJSONFile }

// BulkWrite appends every record as one JSON line and flushes.
func (s *Sink) BulkWrite(ctx context.Context, records []*models.StructuredRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New(errors.ErrorTypeSinkWrite, "sink is closed")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSinkWrite, "bulk write cancelled")
	}

	for _, rec := range records {
		line, err := gojson.Marshal(rec)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeSinkWrite, "failed to marshal record").
				WithDetail("record_id", rec.ID)
		}
		if _, err := s.writer.Write(line); err != nil {
			return errors.Wrap(err, errors.ErrorTypeSinkWrite, "failed to write record")
		}
		if err := s.writer.WriteByte('\n'); err != nil {
			return errors.Wrap(err, errors.ErrorTypeSinkWrite, "failed to write record")
		}
	}

	if err := s.writer.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSinkWrite, "failed to flush batch")
	}

	s.logger.Debug("bulk write appended", zap.Int("records", len(records)))
	return nil
}

// Health reports whether the sink accepts writes.
func (s *Sink) Health(ctx context.Context) core.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.Unhealthy(core.ConnectorTypeSink,
			errors.New(errors.ErrorTypeSinkWrite, "sink is closed")).
			WithDetail("path", s.path)
	}
	return core.Healthy(core.ConnectorTypeSink).WithDetail("path", s.path)
}

// Close flushes buffers, finalizes the gzip stream, and closes the file.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.writer.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSinkWrite, "failed to flush on close")
	}
	if s.gz != nil {
		if err := s.gz.Close(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeSinkWrite, "failed to close gzip stream")
		}
	}
	if err := s.file.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSinkWrite, "failed to close output file")
	}
	return nil
}
