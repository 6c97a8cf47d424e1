package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// AuditSink persists campaign records. *DB implements it.
type AuditSink interface {
	LogCompileOutcome(ctx context.Context, campaignID string, o *CompileOutcome) error
	LogCoverageSample(ctx context.Context, campaignID string, s *CoverageSample) error
}

type auditEntry struct {
	outcome *CompileOutcome
	sample  *CoverageSample
}

// AuditWriter queues records and writes them from a single goroutine so the
// campaign loop never blocks on the database.
type AuditWriter struct {
	sink       AuditSink
	campaignID string
	ch         chan auditEntry
	wg         sync.WaitGroup
	done       chan struct{}
	backoff    time.Duration
}

func NewAuditWriter(sink AuditSink, campaignID string, bufferSize int) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		sink:       sink,
		campaignID: campaignID,
		ch:         make(chan auditEntry, bufferSize),
		done:       make(chan struct{}),
		backoff:    100 * time.Millisecond,
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// RecordCompile queues a compile outcome.
func (w *AuditWriter) RecordCompile(o CompileOutcome) {
	w.enqueue(auditEntry{outcome: &o}, o.Artifact)
}

// RecordCoverage queues a coverage sample.
func (w *AuditWriter) RecordCoverage(s CoverageSample) {
	w.enqueue(auditEntry{sample: &s}, s.ElapsedLabel)
}

func (w *AuditWriter) enqueue(e auditEntry, key string) {
	select {
	case w.ch <- e:
	default:
		log.Warn().Str("record", key).Msg("audit buffer full, dropping entry")
	}
}

// Flush stops the writer after draining queued entries, waiting at most timeout.
func (w *AuditWriter) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case e := <-w.ch:
			w.writeWithRetry(e)
		case <-w.done:
			for {
				select {
				case e := <-w.ch:
					w.writeWithRetry(e)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) write(ctx context.Context, e auditEntry) error {
	if e.outcome != nil {
		return w.sink.LogCompileOutcome(ctx, w.campaignID, e.outcome)
	}
	return w.sink.LogCoverageSample(ctx, w.campaignID, e.sample)
}

func (w *AuditWriter) writeWithRetry(e auditEntry) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.write(ctx, e)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * w.backoff
			log.Warn().
				Err(err).
				Str("campaign_id", w.campaignID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("audit write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("campaign_id", w.campaignID).
				Msg("audit write failed permanently after retries")
		}
	}
}
