package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"neighborly-auth/internal/bucketing"
	"neighborly-auth/internal/models"
	"neighborly-auth/internal/util"
)

const (
	bufferSize    = 1024
	flushBatch    = 64
	flushInterval = 5 * time.Second
	flushTimeout  = 10 * time.Second
)

const insertEventsQuery = `
	INSERT INTO security_events (
		event_bucket, event_date, event_time, event_type,
		user_id, phone_hash, ip_address, request_id, details
	)`

// BatchSink receives event batches for the durable audit trail.
type BatchSink interface {
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
}

// IndexSink indexes events for search.
type IndexSink interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) (*esapi.Response, error)
}

// StreamSink publishes events for downstream consumers.
type StreamSink interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Recorder buffers security events and flushes them to the analytics sinks
// in the background. Record never blocks an auth request: when the buffer is
// full the event is dropped and counted. Any sink may be nil.
type Recorder struct {
	events  chan models.SecurityEvent
	buckets *bucketing.BucketingManager

	clickhouse BatchSink
	search     IndexSink
	stream     StreamSink

	esIndex string
	topic   string

	dropped atomic.Int64
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewRecorder(buckets *bucketing.BucketingManager, clickhouse BatchSink, search IndexSink, stream StreamSink, esIndex, topic string) *Recorder {
	r := &Recorder{
		events:     make(chan models.SecurityEvent, bufferSize),
		buckets:    buckets,
		clickhouse: clickhouse,
		search:     search,
		stream:     stream,
		esIndex:    esIndex,
		topic:      topic,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	go r.run()
	return r
}

// Record enqueues an event, filling in time and bucket fields.
func (r *Recorder) Record(event models.SecurityEvent) {
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}
	event.EventDate = r.buckets.DateBucket(event.EventTime)

	key := event.UserID
	if key == "" {
		key = event.PhoneHash
	}
	event.EventBucket = r.buckets.EventBucket(key)

	select {
	case r.events <- event:
	default:
		dropped := r.dropped.Add(1)
		if dropped%100 == 1 {
			util.Warn("Audit buffer full, dropping events",
				zap.Int64("dropped_total", dropped))
		}
	}
}

// Dropped reports how many events were lost to backpressure.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close flushes what is buffered and stops the background loop.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.stop)
		<-r.done
	})
}

func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]models.SecurityEvent, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case event := <-r.events:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.stop:
			// Drain whatever Record managed to enqueue.
			for {
				select {
				case event := <-r.events:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush fans the batch out to all sinks in parallel. Every sink is
// best-effort; a failure is logged and the batch moves on.
func (r *Recorder) flush(batch []models.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if r.clickhouse != nil {
		rows := make([][]interface{}, 0, len(batch))
		for _, e := range batch {
			rows = append(rows, []interface{}{
				e.EventBucket, e.EventDate, e.EventTime, e.EventType,
				e.UserID, e.PhoneHash, e.IPAddress, e.RequestID, e.Details,
			})
		}
		g.Go(func() error {
			if err := r.clickhouse.BatchInsert(ctx, insertEventsQuery, rows); err != nil {
				util.Error("Failed to flush events to ClickHouse",
					zap.Int("batch_size", len(rows)),
					zap.Error(err))
			}
			return nil
		})
	}

	if r.search != nil {
		events := batch
		g.Go(func() error {
			for _, e := range events {
				res, err := r.search.IndexDocument(ctx, r.esIndex, uuid.New().String(), e)
				if err != nil {
					util.Error("Failed to index event", zap.Error(err))
					continue
				}
				if res.Body != nil {
					res.Body.Close()
				}
			}
			return nil
		})
	}

	if r.stream != nil {
		events := batch
		g.Go(func() error {
			for _, e := range events {
				payload, err := json.Marshal(e)
				if err != nil {
					continue
				}
				key := e.UserID
				if key == "" {
					key = e.PhoneHash
				}
				if err := r.stream.ProduceMessage(ctx, r.topic, []byte(key), payload, nil); err != nil {
					util.Error("Failed to stream event", zap.Error(err))
				}
			}
			return nil
		})
	}

	_ = g.Wait()
}
