// Package csv provides a file-backed source connector producing raw
// records from CSV input. The first row must be a header containing at
// least the id, timestamp, and value columns; any additional columns
// are carried as record metadata.
package csv

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/datapex/batchflow/pkg/config"
	"github.com/datapex/batchflow/pkg/connector/core"
	"github.com/datapex/batchflow/pkg/connector/registry"
	"github.com/datapex/batchflow/pkg/errors"
	"github.com/datapex/batchflow/pkg/logger"
	"github.com/datapex/batchflow/pkg/models"
)

func init() {
	registry.RegisterSource(config.SourceTypeCSV, func(cfg config.SourceConfig) (core.Source, error) {
		return New(cfg)
	})
}

const (
	columnID        = "id"
	columnTimestamp = "timestamp"
	columnValue     = "value"
)

// Source reads raw records from a CSV file. Unlike the blocking
// simulated source, the file is finite: the final batch may be shorter
// than requested, and a fetch past end-of-file fails with
// source_unavailable.
type Source struct {
	name   string
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	file    *os.File
	reader  *csv.Reader
	headers []string
	row     int
	eof     bool
	closed  bool
}

// New opens the CSV file and reads its header row.
func New(cfg config.SourceConfig) (*Source, error) {
	file, err := os.Open(cfg.Path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to open csv file").
			WithDetail("path", cfg.Path)
	}

	reader := csv.NewReader(file)
	headers, err := reader.Read()
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read csv header").
			WithDetail("path", cfg.Path)
	}

	required := map[string]bool{columnID: false, columnTimestamp: false, columnValue: false}
	for _, h := range headers {
		if _, ok := required[h]; ok {
			required[h] = true
		}
	}
	for col, found := range required {
		if !found {
			_ = file.Close()
			return nil, errors.New(errors.ErrorTypeData, "csv header missing required column").
				WithDetail("column", col).
				WithDetail("path", cfg.Path)
		}
	}

	return &Source{
		name:    cfg.Name,
		path:    cfg.Path,
		file:    file,
		reader:  reader,
		headers: headers,
		logger:  logger.With(zap.String("source", cfg.Name), zap.String("path", cfg.Path)),
	}, nil
}

// Name returns the source name.
func (s *Source) Name() string { return s.name }

// Fetch reads up to batchSize rows. It fails with source_unavailable
// once the file is exhausted or the source is closed.
func (s *Source) Fetch(ctx context.Context, batchSize int) ([]*models.RawRecord, error) {
	if batchSize <= 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "batch size must be positive").
			WithDetail("source", s.name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New(errors.ErrorTypeSourceUnavailable, "source is closed").
			WithDetail("source", s.name)
	}
	if s.eof {
		return nil, errors.New(errors.ErrorTypeSourceUnavailable, "csv source exhausted").
			WithDetail("source", s.name).
			WithDetail("rows_read", s.row)
	}

	batch := make([]*models.RawRecord, 0, batchSize)
	for len(batch) < batchSize {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "fetch cancelled").
				WithDetail("source", s.name)
		}

		row, err := s.reader.Read()
		if err == io.EOF {
			s.eof = true
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to read csv row").
				WithDetail("source", s.name).
				WithDetail("row", s.row)
		}
		s.row++

		rec, err := s.parseRow(row)
		if err != nil {
			// Malformed rows are a data problem, not a connectivity one;
			// skip them and keep the batch going.
			s.logger.Warn("skipping malformed csv row", zap.Int("row", s.row), zap.Error(err))
			continue
		}
		batch = append(batch, rec)
	}

	if len(batch) == 0 {
		return nil, errors.New(errors.ErrorTypeSourceUnavailable, "csv source exhausted").
			WithDetail("source", s.name).
			WithDetail("rows_read", s.row)
	}

	s.logger.Debug("fetched batch", zap.Int("records", len(batch)))
	return batch, nil
}

func (s *Source) parseRow(row []string) (*models.RawRecord, error) {
	if len(row) != len(s.headers) {
		return nil, errors.New(errors.ErrorTypeData, "column count mismatch")
	}

	rec := &models.RawRecord{Metadata: map[string]string{"source": s.name}}
	for i, header := range s.headers {
		switch header {
		case columnID:
			id, err := strconv.ParseInt(row[i], 10, 64)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid id column")
			}
			rec.ID = id
		case columnValue:
			value, err := strconv.ParseFloat(row[i], 64)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid value column")
			}
			rec.Value = value
		case columnTimestamp:
			// Kept as the raw string; the transform stage owns parsing
			// and its fail-closed policy.
			rec.Timestamp = row[i]
		default:
			rec.Metadata[header] = row[i]
		}
	}
	return rec, nil
}

// Health reports whether more rows can be fetched.
func (s *Source) Health(ctx context.Context) core.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.Unhealthy(core.ConnectorTypeSource,
			errors.New(errors.ErrorTypeSourceUnavailable, "source is closed")).
			WithDetail("source", s.name)
	}
	if s.eof {
		return core.Unhealthy(core.ConnectorTypeSource,
			errors.New(errors.ErrorTypeSourceUnavailable, "csv source exhausted")).
			WithDetail("source", s.name).
			WithDetail("rows_read", s.row)
	}
	return core.Healthy(core.ConnectorTypeSource).
		WithDetail("source", s.name).
		WithDetail("rows_read", s.row)
}

// Close closes the underlying file.
func (s *Source) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}
