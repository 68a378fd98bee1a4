package evallog

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog"
)

// Record is one evaluation log row: the normalized context a decision was
// made against and the decision itself.
type Record struct {
	ProjectKey  string          `json:"project_key"`
	EnvKey      string          `json:"env_key"`
	FlagKey     string          `json:"flag_key"`
	SubjectID   string          `json:"subject_id,omitempty"`
	Context     json.RawMessage `json:"context"`
	Enabled     bool            `json:"enabled"`
	VariantKey  string          `json:"variant_key,omitempty"`
	MatchedRule string          `json:"matched_rule,omitempty"`
	Reason      string          `json:"reason"`
	EvaluatedAt time.Time       `json:"evaluated_at"`
}

// Options tunes the sink's buffering and sampling.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
	SampleRate    float64
}

// Sink writes sampled evaluation records to ClickHouse in batches. Writes
// are fire-and-forget from the decision path: Log never blocks and never
// errors, and a full buffer drops the record rather than stall a decision.
// A nil connection disables the sink entirely.
type Sink struct {
	conn   clickhouse.Conn
	opts   Options
	logger zerolog.Logger

	records chan Record
	quit    chan struct{}
	done    chan struct{}
}

// New creates an evaluation log sink and starts its background batcher.
func New(conn clickhouse.Conn, opts Options, logger zerolog.Logger) *Sink {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10_000
	}
	if opts.SampleRate < 0 || opts.SampleRate > 1 {
		opts.SampleRate = 1
	}

	s := &Sink{
		conn:    conn,
		opts:    opts,
		logger:  logger.With().Str("component", "evaluation_log").Logger(),
		records: make(chan Record, opts.BufferSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if conn != nil {
		go s.run()
	}
	return s
}

// Enabled reports whether records go anywhere at all.
func (s *Sink) Enabled() bool {
	return s.conn != nil
}

// Log enqueues one record, subject to the sample rate. It never blocks: when
// the buffer is full the record is dropped and counted against the log, not
// against the decision.
func (s *Sink) Log(rec Record) {
	if s.conn == nil {
		return
	}
	if !s.sample() {
		return
	}
	if rec.EvaluatedAt.IsZero() {
		rec.EvaluatedAt = time.Now().UTC()
	}
	// The records channel is never closed, so a Log racing Close cannot
	// panic; a record arriving after the final drain is simply dropped.
	select {
	case <-s.quit:
		return
	default:
	}
	select {
	case s.records <- rec:
	default:
		s.logger.Warn().Str("flag", rec.FlagKey).Msg("Evaluation log buffer full, dropping record")
	}
}

func (s *Sink) sample() bool {
	if s.opts.SampleRate >= 1 {
		return true
	}
	if s.opts.SampleRate <= 0 {
		return false
	}
	return rand.Float64() < s.opts.SampleRate
}

func (s *Sink) run() {
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, s.opts.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.write(batch); err != nil {
			s.logger.Error().Err(err).Int("count", len(batch)).Msg("Failed to write evaluation log batch")
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-s.records:
			batch = append(batch, rec)
			if len(batch) >= s.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.quit:
			for {
				select {
				case rec := <-s.records:
					batch = append(batch, rec)
					if len(batch) >= s.opts.BatchSize {
						flush()
					}
				default:
					flush()
					close(s.done)
					return
				}
			}
		}
	}
}

func (s *Sink) write(batch []Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := s.conn.PrepareBatch(ctx, `INSERT INTO evaluation_log
		(date, evaluated_at, project_key, env_key, flag_key, subject_id, context_json, enabled, variant_key, matched_rule, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	for _, rec := range batch {
		contextJSON := "{}"
		if len(rec.Context) > 0 {
			contextJSON = string(rec.Context)
		}
		if err := b.Append(
			rec.EvaluatedAt.Truncate(24*time.Hour),
			rec.EvaluatedAt,
			rec.ProjectKey,
			rec.EnvKey,
			rec.FlagKey,
			rec.SubjectID,
			contextJSON,
			rec.Enabled,
			rec.VariantKey,
			rec.MatchedRule,
			rec.Reason,
		); err != nil {
			return err
		}
	}
	return b.Send()
}

// Recent returns a project environment's evaluation records within a time
// range, newest first. A disabled sink returns no rows.
func (s *Sink) Recent(ctx context.Context, projectKey, envKey string, from, to time.Time, limit int) ([]Record, error) {
	if s.conn == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.conn.Query(ctx, `SELECT evaluated_at, project_key, env_key, flag_key, subject_id, context_json, enabled, variant_key, matched_rule, reason
		FROM evaluation_log
		WHERE project_key = ? AND env_key = ? AND evaluated_at >= ? AND evaluated_at < ?
		ORDER BY evaluated_at DESC LIMIT ?`,
		projectKey, envKey, from, to, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to query evaluation log")
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var contextJSON string
		if err := rows.Scan(&rec.EvaluatedAt, &rec.ProjectKey, &rec.EnvKey, &rec.FlagKey, &rec.SubjectID, &contextJSON, &rec.Enabled, &rec.VariantKey, &rec.MatchedRule, &rec.Reason); err != nil {
			return nil, err
		}
		rec.Context = json.RawMessage(contextJSON)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close drains the buffer, flushes the final batch, and stops the batcher.
// In-flight records complete; nothing new is accepted afterwards.
func (s *Sink) Close() {
	if s.conn == nil {
		return
	}
	close(s.quit)
	<-s.done
}
