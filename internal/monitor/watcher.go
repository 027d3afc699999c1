package monitor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jbroll/mailmap/internal/mailbox"
	"github.com/jbroll/mailmap/internal/model"
	"github.com/jbroll/mailmap/internal/retry"
)

// Session is the slice of an IMAP connection the watchers use. It is
// satisfied by *mailbox.Session.
type Session interface {
	ListFolders(ctx context.Context) ([]string, error)
	Select(ctx context.Context, folder string) (uint32, error)
	UIDsSince(ctx context.Context, folder string, mark uint32) ([]uint32, error)
	Idle(ctx context.Context, timeout time.Duration) (bool, error)
	FetchMessage(ctx context.Context, folder string, uid uint32) (*model.Message, error)
	SupportsIdle() bool
	Close() error
}

// DialFunc opens a fresh authenticated session.
type DialFunc func(ctx context.Context) (Session, error)

// Marks is the durable high-water mark storage shared by all watchers.
type Marks interface {
	LastUID(ctx context.Context, folder string) (uint32, bool, error)
	SetLastUID(ctx context.Context, folder string, uid uint32) error
}

// Sink receives newly observed messages. It is satisfied by *queue.Queue.
type Sink interface {
	Enqueue(ctx context.Context, msg *model.Message) error
}

// watcher tracks new messages in a single folder. The idle variant holds a
// session open and waits for server pushes; the poll variant opens a
// short-lived session on a fixed interval.
type watcher struct {
	folder       string
	idle         bool
	dial         DialFunc
	marks        Marks
	sink         Sink
	logger       *zap.Logger
	idleTimeout  time.Duration
	pollInterval time.Duration
	backoff      retry.Policy

	attempt int
}

func (w *watcher) run(ctx context.Context) error {
	if w.idle {
		return w.runIdle(ctx)
	}
	return w.runPoll(ctx)
}

// runIdle cycles through connect, drain, and idle-wait until the context is
// cancelled. Transport failures close the session and reconnect with
// backoff; authentication failures propagate and stop the whole monitor.
func (w *watcher) runIdle(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		session, err := w.dial(ctx)
		if err != nil {
			if mailbox.IsAuthError(err) {
				w.logger.Error("authentication rejected, giving up",
					zap.String("folder", w.folder), zap.Error(err))
				return err
			}
			if err := w.backOff(ctx, err, "connect failed"); err != nil {
				return err
			}
			continue
		}

		err = w.serve(ctx, session)
		if closeErr := session.Close(); closeErr != nil {
			w.logger.Debug("session close failed",
				zap.String("folder", w.folder), zap.Error(closeErr))
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if mailbox.IsAuthError(err) {
			return err
		}
		if err := w.backOff(ctx, err, "session failed"); err != nil {
			return err
		}
	}
}

// serve drains and idles on an established session until it fails.
func (w *watcher) serve(ctx context.Context, session Session) error {
	uidNext, err := session.Select(ctx, w.folder)
	if err != nil {
		return err
	}

	mark, err := w.primeMark(ctx, uidNext)
	if err != nil {
		return err
	}

	canIdle := session.SupportsIdle()
	if !canIdle {
		w.logger.Warn("server lacks IDLE, falling back to interval checks",
			zap.String("folder", w.folder))
	}

	for {
		mark, err = w.drain(ctx, session, mark)
		if err != nil {
			return err
		}

		if canIdle {
			notified, err := session.Idle(ctx, w.idleTimeout)
			if err != nil {
				return err
			}
			if notified {
				w.logger.Debug("woken by server push",
					zap.String("folder", w.folder))
			}
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// runPoll opens a short-lived session on each tick and drains the folder.
// The first poll runs immediately so the mark is primed at startup.
func (w *watcher) runPoll(ctx context.Context) error {
	if err := w.pollOnce(ctx); err != nil {
		if mailbox.IsAuthError(err) {
			w.logger.Error("authentication rejected, giving up",
				zap.String("folder", w.folder), zap.Error(err))
			return err
		}
		w.logger.Warn("poll failed",
			zap.String("folder", w.folder), zap.Error(err))
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := w.pollOnce(ctx); err != nil {
			if mailbox.IsAuthError(err) {
				w.logger.Error("authentication rejected, giving up",
					zap.String("folder", w.folder), zap.Error(err))
				return err
			}
			w.logger.Warn("poll failed",
				zap.String("folder", w.folder), zap.Error(err))
		}
	}
}

func (w *watcher) pollOnce(ctx context.Context) error {
	session, err := w.dial(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	uidNext, err := session.Select(ctx, w.folder)
	if err != nil {
		return err
	}

	mark, err := w.primeMark(ctx, uidNext)
	if err != nil {
		return err
	}

	_, err = w.drain(ctx, session, mark)
	return err
}

// primeMark returns the folder's durable high-water mark, establishing it at
// uidNext-1 on first contact so history is never re-scanned.
func (w *watcher) primeMark(ctx context.Context, uidNext uint32) (uint32, error) {
	mark, known, err := w.marks.LastUID(ctx, w.folder)
	if err != nil {
		return 0, err
	}
	if known {
		return mark, nil
	}

	var baseline uint32
	if uidNext > 0 {
		baseline = uidNext - 1
	}
	if err := w.marks.SetLastUID(ctx, w.folder, baseline); err != nil {
		return 0, err
	}

	w.logger.Info("established baseline",
		zap.String("folder", w.folder), zap.Uint32("uid", baseline))
	return baseline, nil
}

// drain fetches and emits every message above mark in ascending UID order,
// advancing the durable mark after each handoff.
func (w *watcher) drain(ctx context.Context, session Session, mark uint32) (uint32, error) {
	uids, err := session.UIDsSince(ctx, w.folder, mark)
	if err != nil {
		return mark, err
	}

	for _, uid := range uids {
		msg, err := session.FetchMessage(ctx, w.folder, uid)
		if err != nil {
			if errors.Is(err, mailbox.ErrNotFound) {
				// Expunged since the search; skip past it.
				w.logger.Debug("message vanished before fetch",
					zap.String("folder", w.folder), zap.Uint32("uid", uid))
				if err := w.marks.SetLastUID(ctx, w.folder, uid); err != nil {
					return mark, err
				}
				mark = uid
				continue
			}
			return mark, err
		}

		if err := w.sink.Enqueue(ctx, msg); err != nil {
			return mark, err
		}
		if err := w.marks.SetLastUID(ctx, w.folder, uid); err != nil {
			return mark, err
		}
		mark = uid
	}

	w.attempt = 0
	return mark, nil
}

// backOff logs the failure and sleeps for the next backoff delay, honoring
// cancellation.
func (w *watcher) backOff(ctx context.Context, cause error, what string) error {
	w.attempt++
	delay := w.backoff.Delay(w.attempt - 1)
	w.logger.Warn(what,
		zap.String("folder", w.folder),
		zap.Int("attempt", w.attempt),
		zap.Duration("retry_in", delay),
		zap.Error(cause))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
