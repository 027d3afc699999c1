// Package app wires the store, mailbox sessions, classifier, queue, and
// monitor into the running daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jbroll/mailmap/internal/classify"
	"github.com/jbroll/mailmap/internal/config"
	"github.com/jbroll/mailmap/internal/llm"
	"github.com/jbroll/mailmap/internal/mailbox"
	"github.com/jbroll/mailmap/internal/model"
	"github.com/jbroll/mailmap/internal/monitor"
	"github.com/jbroll/mailmap/internal/queue"
	"github.com/jbroll/mailmap/internal/retry"
	"github.com/jbroll/mailmap/internal/store"
)

// App holds the long-lived collaborators of one daemon process.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      store.Store
	classifier *classify.Classifier
}

// New opens the store and builds the classification stack. Close releases
// what New opened.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	generator := llm.New(llm.Options{
		BaseURL:        cfg.Ollama.BaseURL,
		Model:          cfg.Ollama.Model,
		Timeout:        time.Duration(cfg.Ollama.TimeoutSeconds) * time.Second,
		RequestsPerSec: cfg.Ollama.RequestsPerSec,
	})

	classifier := classify.New(generator, classify.Options{
		ConfidenceThreshold: cfg.Classify.ConfidenceThreshold,
		FallbackFolder:      cfg.Classify.FallbackFolder,
		Logger:              logger,
	})

	return &App{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		classifier: classifier,
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.store.Close()
}

// Store exposes the result store for command-line inspection paths.
func (a *App) Store() store.Store {
	return a.store
}

// Run bootstraps the folder taxonomy, then watches, classifies, and
// persists until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	session, err := a.dialWithRetry(ctx)
	if err != nil {
		return err
	}

	var bootstrapped []model.FolderDescriptor

	known, err := a.store.Folders(ctx)
	if err != nil {
		session.Close()
		return err
	}
	if len(known) == 0 {
		bootstrapped, err = a.InitFolders(ctx, session)
		if err != nil {
			session.Close()
			return fmt.Errorf("bootstrapping taxonomy: %w", err)
		}
	}

	if err := a.SyncFolders(ctx, session); err != nil {
		session.Close()
		return fmt.Errorf("syncing folders: %w", err)
	}
	if err := a.DescribeFolders(ctx, session); err != nil {
		session.Close()
		return err
	}
	if err := session.Close(); err != nil {
		a.logger.Debug("bootstrap session close failed", zap.Error(err))
	}

	q := queue.New(a.store, a.classifier, queue.Options{
		Size:   a.cfg.Classify.QueueSize,
		Move:   a.moveFunc(),
		Logger: a.logger,
	})

	mon := monitor.New(
		a.dialMonitor,
		a.store,
		q,
		monitor.Config{
			IdleFolders:     a.cfg.IMAP.IdleFolders,
			IdleTimeout:     time.Duration(a.cfg.IMAP.IdleTimeoutSeconds) * time.Second,
			PollInterval:    time.Duration(a.cfg.IMAP.PollIntervalSeconds) * time.Second,
			RefreshInterval: time.Duration(a.cfg.IMAP.RefreshFoldersSeconds) * time.Second,
		},
		a.logger,
	)
	if len(bootstrapped) > 0 {
		mon.UpdateFolderSet(bootstrapped)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return q.Run(gctx) })
	g.Go(func() error { return mon.Run(gctx) })

	a.logger.Info("mailmap running",
		zap.Strings("idle_folders", a.cfg.IMAP.IdleFolders),
		zap.String("model", a.cfg.Ollama.Model))

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// InitFolders builds the folder taxonomy from a sample of the primary
// folder: one suggestion call, refinement over the remaining sample in
// batches, then normalization. The resulting folders are stored and
// created on the server.
func (a *App) InitFolders(ctx context.Context, session *mailbox.Session) ([]model.FolderDescriptor, error) {
	primary := a.primaryFolder()

	samples, err := a.sampleMessages(ctx, session, primary, classify.SuggestSampleLimit)
	if err != nil {
		return nil, fmt.Errorf("sampling %s: %w", primary, err)
	}
	a.logger.Info("bootstrapping folder taxonomy",
		zap.String("folder", primary), zap.Int("samples", len(samples)))

	seed := samples
	if len(seed) > classify.RefineBatchSize {
		seed = seed[:classify.RefineBatchSize]
	}
	categories, err := a.classifier.Suggest(ctx, seed)
	if err != nil {
		return nil, fmt.Errorf("suggesting folders: %w", err)
	}

	batchNum := 1
	for start := len(seed); start < len(samples); start += classify.RefineBatchSize {
		end := start + classify.RefineBatchSize
		if end > len(samples) {
			end = len(samples)
		}
		batchNum++

		refined, _, err := a.classifier.Refine(ctx, categories, samples[start:end], batchNum)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Warn("refinement batch failed, keeping current categories",
				zap.Int("batch", batchNum), zap.Error(err))
			continue
		}
		categories = refined
	}

	consolidated, renames, err := a.classifier.Normalize(ctx, categories)
	if err != nil {
		return nil, fmt.Errorf("normalizing folders: %w", err)
	}

	for oldName, newName := range renames {
		if oldName == newName {
			continue
		}
		if err := a.store.RenameFolder(ctx, oldName, newName); err != nil {
			a.logger.Warn("folder rename failed",
				zap.String("from", oldName), zap.String("to", newName),
				zap.Error(err))
		}
	}

	now := time.Now().UTC()
	descriptors := make([]model.FolderDescriptor, 0, len(consolidated))
	for _, cat := range consolidated {
		d := model.FolderDescriptor{
			Name:        cat.Name,
			Description: cat.Description,
			LastUpdated: now,
		}
		if err := a.store.UpsertFolder(ctx, d); err != nil {
			return nil, fmt.Errorf("storing folder %s: %w", cat.Name, err)
		}
		if err := session.EnsureFolder(ctx, cat.Name); err != nil {
			a.logger.Warn("creating server folder failed",
				zap.String("folder", cat.Name), zap.Error(err))
		}
		descriptors = append(descriptors, d)
	}

	a.logger.Info("taxonomy established", zap.Int("folders", len(descriptors)))
	return descriptors, nil
}

// SyncFolders registers server folders the store does not know yet. Their
// descriptions start blank and are filled by describeBlankFolders.
func (a *App) SyncFolders(ctx context.Context, session *mailbox.Session) error {
	serverFolders, err := session.ListFolders(ctx)
	if err != nil {
		return err
	}

	known, err := a.store.Folders(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(known))
	for _, f := range known {
		have[f.Name] = true
	}

	added := 0
	for _, name := range serverFolders {
		if have[name] {
			continue
		}
		if err := a.store.UpsertFolder(ctx, model.FolderDescriptor{Name: name}); err != nil {
			return fmt.Errorf("registering folder %s: %w", name, err)
		}
		added++
	}
	if added > 0 {
		a.logger.Info("registered server folders", zap.Int("added", added))
	}
	return nil
}

// DescribeFolders asks the model for a one-line description of every
// folder that has none, from a handful of that folder's recent messages.
func (a *App) DescribeFolders(ctx context.Context, session *mailbox.Session) error {
	folders, err := a.store.Folders(ctx)
	if err != nil {
		return err
	}

	for _, f := range folders {
		if f.Description != "" {
			continue
		}

		samples, err := a.sampleMessages(ctx, session, f.Name, classify.DescribeSampleLimit)
		if err != nil {
			a.logger.Warn("sampling for description failed",
				zap.String("folder", f.Name), zap.Error(err))
			continue
		}

		desc, err := a.classifier.DescribeFolder(ctx, f.Name, samples)
		if err != nil {
			return err
		}

		f.Description = desc
		f.LastUpdated = time.Now().UTC()
		if err := a.store.UpsertFolder(ctx, f); err != nil {
			return fmt.Errorf("storing description for %s: %w", f.Name, err)
		}
		a.logger.Info("described folder", zap.String("folder", f.Name))
	}
	return nil
}

// sampleMessages fetches up to limit of the most recent messages in folder.
func (a *App) sampleMessages(
	ctx context.Context,
	session *mailbox.Session,
	folder string,
	limit int,
) ([]model.Message, error) {
	if _, err := session.Select(ctx, folder); err != nil {
		return nil, err
	}

	uids, err := session.UIDsSince(ctx, folder, 0)
	if err != nil {
		return nil, err
	}
	if len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	msgs := make([]model.Message, 0, len(uids))
	for _, uid := range uids {
		msg, err := session.FetchMessage(ctx, folder, uid)
		if err != nil {
			if errors.Is(err, mailbox.ErrNotFound) {
				continue
			}
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, nil
}

// Dial opens one authenticated session with connection retries, for the
// command-line maintenance paths.
func (a *App) Dial(ctx context.Context) (*mailbox.Session, error) {
	return a.dialWithRetry(ctx)
}

// dialWithRetry opens the bootstrap session, retrying transient failures.
// Auth rejections are not retried.
func (a *App) dialWithRetry(ctx context.Context) (*mailbox.Session, error) {
	policy := retry.Network()
	policy.Retryable = func(err error) bool {
		return !mailbox.IsAuthError(err)
	}

	var session *mailbox.Session
	err := retry.Do(ctx, policy, func() error {
		var dialErr error
		session, dialErr = mailbox.Dial(ctx, a.sessionOptions())
		return dialErr
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", a.cfg.IMAP.Host, err)
	}
	return session, nil
}

// dialMonitor is the monitor's session factory.
func (a *App) dialMonitor(ctx context.Context) (monitor.Session, error) {
	session, err := mailbox.Dial(ctx, a.sessionOptions())
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (a *App) sessionOptions() mailbox.Options {
	return mailbox.Options{
		Host:           a.cfg.IMAP.Host,
		Port:           a.cfg.IMAP.Port,
		Username:       a.cfg.IMAP.Username,
		Password:       a.cfg.IMAP.Password,
		UseSSL:         a.cfg.IMAP.UseSSL,
		ExcludeFolders: a.cfg.IMAP.ExcludeFolders,
	}
}

// moveFunc returns the queue's move callback, or nil when auto-move is
// disabled. Each move opens a short-lived session; moves are rare enough
// that connection reuse is not worth a shared session's locking.
func (a *App) moveFunc() queue.MoveFunc {
	if !a.cfg.Classify.AutoMove {
		return nil
	}
	return func(ctx context.Context, msg *model.Message, dest string) error {
		session, err := mailbox.Dial(ctx, a.sessionOptions())
		if err != nil {
			return err
		}
		defer session.Close()

		if err := session.EnsureFolder(ctx, dest); err != nil {
			return err
		}
		return session.Move(ctx, msg.Folder, msg.UID, dest)
	}
}

func (a *App) primaryFolder() string {
	if len(a.cfg.IMAP.IdleFolders) > 0 {
		return a.cfg.IMAP.IdleFolders[0]
	}
	return classify.DefaultFolderName
}
