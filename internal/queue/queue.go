// Package queue decouples message arrival from classification throughput.
// A bounded channel feeds a single consumer loop; one message's failure
// never blocks the ones behind it.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jbroll/mailmap/internal/model"
)

// ErrClosed is returned by Enqueue once the queue has shut down.
var ErrClosed = errors.New("queue closed")

// DefaultSize is the channel capacity when Options leaves it unset.
const DefaultSize = 256

// DefaultDrainTimeout bounds how long shutdown spends on queued work.
const DefaultDrainTimeout = 30 * time.Second

// Classifier turns a message plus the known folder set into a validated
// classification. It is satisfied by *classify.Classifier.
type Classifier interface {
	Classify(ctx context.Context, msg *model.Message, folders []model.FolderDescriptor) (*model.ClassificationResult, error)
}

// Results is the persistence surface the consumer loop needs.
type Results interface {
	HasResult(ctx context.Context, messageID string) (bool, error)
	SaveResult(ctx context.Context, msg *model.Message, result *model.ClassificationResult) error
	SaveUnclassified(ctx context.Context, msg *model.Message) error
	MarkMoved(ctx context.Context, messageID string) error
	Folders(ctx context.Context) ([]model.FolderDescriptor, error)
}

// MoveFunc relocates a classified message to its predicted folder. A nil
// MoveFunc disables moving.
type MoveFunc func(ctx context.Context, msg *model.Message, dest string) error

// Options configures a Queue.
type Options struct {
	// Size is the channel capacity; DefaultSize when zero.
	Size int

	// DrainTimeout bounds shutdown draining; DefaultDrainTimeout when zero.
	DrainTimeout time.Duration

	// Move, when set, relocates messages whose predicted folder differs
	// from where they arrived.
	Move MoveFunc

	Logger *zap.Logger
}

// Queue is the processing pipeline between the folder monitor and the
// result store.
type Queue struct {
	ch           chan *model.Message
	results      Results
	classifier   Classifier
	move         MoveFunc
	drainTimeout time.Duration
	logger       *zap.Logger

	quit     chan struct{}
	quitOnce sync.Once
}

// New creates a Queue. The consumer loop starts when Run is called.
func New(results Results, classifier Classifier, opts Options) *Queue {
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}
	drain := opts.DrainTimeout
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Queue{
		ch:           make(chan *model.Message, size),
		results:      results,
		classifier:   classifier,
		move:         opts.Move,
		drainTimeout: drain,
		logger:       logger,
		quit:         make(chan struct{}),
	}
}

// Enqueue hands a message to the consumer loop. It blocks only while the
// channel is full, and fails with ErrClosed once the queue has shut down.
func (q *Queue) Enqueue(ctx context.Context, msg *model.Message) error {
	select {
	case <-q.quit:
		return ErrClosed
	default:
	}

	select {
	case q.ch <- msg:
		return nil
	case <-q.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes messages until ctx is cancelled, then drains whatever is
// still queued under a bounded deadline. It always returns nil so that a
// supervising group treats shutdown as clean.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return q.finish()
		case msg := <-q.ch:
			q.process(ctx, msg)
		}
	}
}

// finish rejects new work and processes the backlog under a fresh bounded
// context, since the loop context is already cancelled.
func (q *Queue) finish() error {
	q.quitOnce.Do(func() { close(q.quit) })

	drainCtx, cancel := context.WithTimeout(context.Background(), q.drainTimeout)
	defer cancel()

	for {
		select {
		case msg := <-q.ch:
			q.process(drainCtx, msg)
			if drainCtx.Err() != nil {
				q.logger.Warn("drain deadline reached, dropping backlog",
					zap.Int("remaining", len(q.ch)))
				return nil
			}
		default:
			return nil
		}
	}
}

// process runs one message through the pipeline. Every failure path logs
// and returns; the loop never stops because of a single message.
func (q *Queue) process(ctx context.Context, msg *model.Message) {
	log := q.logger.With(
		zap.String("message_id", msg.ID),
		zap.String("folder", msg.Folder),
	)

	seen, err := q.results.HasResult(ctx, msg.ID)
	if err != nil {
		log.Error("result lookup failed", zap.Error(err))
		return
	}
	if seen {
		log.Debug("already processed, skipping")
		return
	}

	folders, err := q.results.Folders(ctx)
	if err != nil {
		log.Error("loading folders failed", zap.Error(err))
		q.saveUnclassified(ctx, msg, log)
		return
	}

	result, err := q.classifier.Classify(ctx, msg, folders)
	if err != nil {
		log.Warn("classification failed", zap.Error(err))
		q.saveUnclassified(ctx, msg, log)
		return
	}

	if err := q.results.SaveResult(ctx, msg, result); err != nil {
		log.Error("saving result failed", zap.Error(err))
		return
	}
	log.Info("classified",
		zap.String("predicted", result.Folder),
		zap.Float64("confidence", result.Confidence))

	// A zeroed confidence marks a fallback substitution; those stay put.
	if q.move == nil || result.Folder == msg.Folder || result.Confidence <= 0 {
		return
	}
	if err := q.move(ctx, msg, result.Folder); err != nil {
		log.Warn("move failed", zap.Error(err))
		return
	}
	if err := q.results.MarkMoved(ctx, msg.ID); err != nil {
		log.Error("recording move failed", zap.Error(err))
		return
	}
	log.Info("moved", zap.String("to", result.Folder))
}

func (q *Queue) saveUnclassified(ctx context.Context, msg *model.Message, log *zap.Logger) {
	if err := q.results.SaveUnclassified(ctx, msg); err != nil {
		log.Error("saving unclassified failed", zap.Error(err))
	}
}
