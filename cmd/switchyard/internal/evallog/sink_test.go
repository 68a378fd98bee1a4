package evallog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubConn satisfies driver.Conn for the batcher's lifecycle paths; every
// batch write fails so nothing reaches a real server.
type stubConn struct {
	driver.Conn
}

func (stubConn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	return nil, errors.New("clickhouse unavailable")
}

func TestDisabledSinkIsInert(t *testing.T) {
	s := New(nil, Options{}, zerolog.Nop())

	assert.False(t, s.Enabled())

	// Log, Recent and Close must all be safe no-ops without a connection.
	s.Log(Record{FlagKey: "checkout", Reason: "default"})

	records, err := s.Recent(context.Background(), "web", "prod", time.Now().Add(-time.Hour), time.Now(), 10)
	require.NoError(t, err)
	assert.Nil(t, records)

	s.Close()
}

func TestSampleRateBounds(t *testing.T) {
	full := New(nil, Options{SampleRate: 1}, zerolog.Nop())
	for i := 0; i < 100; i++ {
		assert.True(t, full.sample())
	}

	// Rate zero turns sampling off entirely.
	off := New(nil, Options{SampleRate: 0}, zerolog.Nop())
	for i := 0; i < 100; i++ {
		assert.False(t, off.sample())
	}
}

func TestLogDuringCloseDoesNotPanic(t *testing.T) {
	s := New(stubConn{}, Options{SampleRate: 1, FlushInterval: time.Hour}, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				s.Log(Record{FlagKey: "checkout", Reason: "default"})
			}
		}()
	}

	s.Close()
	wg.Wait()

	// Closed sink keeps refusing records without blocking.
	s.Log(Record{FlagKey: "checkout", Reason: "default"})
}

func TestOptionsNormalization(t *testing.T) {
	s := New(nil, Options{BatchSize: -1, FlushInterval: -time.Second, BufferSize: 0, SampleRate: 2}, zerolog.Nop())

	assert.Equal(t, 500, s.opts.BatchSize)
	assert.Equal(t, 2*time.Second, s.opts.FlushInterval)
	assert.Equal(t, 10_000, s.opts.BufferSize)
	assert.Equal(t, 1.0, s.opts.SampleRate)
}
