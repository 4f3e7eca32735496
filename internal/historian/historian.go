// Package historian drains the battle action log from Redis and stores it in postgres in
// batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jason-s-yu/arena/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// EventSink persists a batch of events atomically.
type EventSink interface {
	InsertBattleEvents(ctx context.Context, events []models.BattleEvent) error
}

type Options struct {
	Queue         string
	BatchSize     int
	FlushInterval time.Duration
	// PopTimeout bounds each BLPOP so cancellation is noticed.
	PopTimeout time.Duration
	// MaxBuffered caps the events held while the sink is failing; the oldest are dropped.
	MaxBuffered int
}

type Service struct {
	rdb  redis.Cmdable
	sink EventSink
	opts Options
	log  logrus.FieldLogger

	batch     []models.BattleEvent
	lastFlush time.Time
}

func New(rdb redis.Cmdable, sink EventSink, opts Options, log logrus.FieldLogger) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = time.Second
	}
	if opts.MaxBuffered < opts.BatchSize {
		opts.MaxBuffered = 10 * opts.BatchSize
	}
	return &Service{
		rdb:   rdb,
		sink:  sink,
		opts:  opts,
		log:   log.WithField("queue", opts.Queue),
		batch: make([]models.BattleEvent, 0, opts.BatchSize),
	}
}

// Run pops events until ctx is done, flushing whenever the batch is full or the flush
// interval has passed. Whatever is buffered at shutdown is flushed before returning.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("historian started")
	s.lastFlush = time.Now()
	defer func() {
		// ctx is already done here; give the last flush its own deadline.
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.flush(flushCtx)
		s.log.Info("historian stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := s.rdb.BLPop(ctx, s.opts.PopTimeout, s.opts.Queue).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			s.log.WithError(err).Error("BLPop failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.opts.PopTimeout):
			}
		case len(res) == 2:
			// res[0] is the queue name and res[1] the payload.
			var ev models.BattleEvent
			if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
				s.log.WithError(err).Warn("invalid action record")
				break
			}
			s.batch = append(s.batch, ev)
			s.trim()
		}

		if len(s.batch) >= s.opts.BatchSize || time.Since(s.lastFlush) >= s.opts.FlushInterval {
			s.flush(ctx)
		}
	}
}

// trim drops the oldest buffered events beyond MaxBuffered.
func (s *Service) trim() {
	over := len(s.batch) - s.opts.MaxBuffered
	if over <= 0 {
		return
	}
	s.log.WithField("dropped", over).Warn("action buffer full, dropping oldest events")
	s.batch = append(s.batch[:0], s.batch[over:]...)
}

// flush writes the buffered batch. On failure the batch is kept and retried next time.
func (s *Service) flush(ctx context.Context) {
	s.lastFlush = time.Now()
	if len(s.batch) == 0 {
		return
	}
	if err := s.sink.InsertBattleEvents(ctx, s.batch); err != nil {
		s.log.WithError(err).WithField("events", len(s.batch)).Error("failed to flush battle events")
		return
	}
	s.log.WithField("events", len(s.batch)).Debug("flushed battle events")
	s.batch = s.batch[:0]
}
