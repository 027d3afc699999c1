// Package monitor watches mailbox folders for new messages and feeds them
// to the processing queue. High-traffic folders hold an IDLE session open;
// the rest are polled on an interval.
package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jbroll/mailmap/internal/mailbox"
	"github.com/jbroll/mailmap/internal/model"
	"github.com/jbroll/mailmap/internal/retry"
)

// Config tunes the monitor's watchers.
type Config struct {
	// IdleFolders hold a persistent IDLE session; all other folders are
	// polled. Names are matched case-insensitively.
	IdleFolders []string

	// IdleTimeout bounds each IDLE wait. Servers drop idle connections
	// after 30 minutes, so stay under that.
	IdleTimeout time.Duration

	// PollInterval is the wake-up period for polled folders.
	PollInterval time.Duration

	// RefreshInterval is the period between folder re-lists. Zero
	// disables discovery of new folders.
	RefreshInterval time.Duration
}

// Monitor supervises one watcher per known folder and periodically
// re-lists the server's folder set to pick up new ones.
type Monitor struct {
	dial   DialFunc
	marks  Marks
	sink   Sink
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	known    map[string]bool
	group    *errgroup.Group
	groupCtx context.Context
	started  bool
	pending  []string
}

// New creates a Monitor. Watchers start when Run is called.
func New(dial DialFunc, marks Marks, sink Sink, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 29 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		dial:   dial,
		marks:  marks,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		known:  make(map[string]bool),
	}
}

// Run lists the server's folders, starts a watcher per folder, and blocks
// until ctx is cancelled or a watcher fails fatally. Marks are durable, so
// a later Run resumes where this one stopped.
func (m *Monitor) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	m.mu.Lock()
	m.group = group
	m.groupCtx = groupCtx
	m.started = true
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	folders, err := m.listFolders(groupCtx)
	if err != nil {
		return err
	}
	for _, folder := range folders {
		m.watchFolder(folder)
	}
	for _, folder := range pending {
		m.watchFolder(folder)
	}

	group.Go(func() error { return m.refreshLoop(groupCtx) })

	return group.Wait()
}

// UpdateFolderSet registers watchers for taxonomy folders the monitor does
// not know yet. New names become poll watchers; promotion to IDLE happens
// through configuration. Folders arriving before Run are buffered and
// picked up when it starts.
func (m *Monitor) UpdateFolderSet(folders []model.FolderDescriptor) {
	m.mu.Lock()
	if !m.started {
		for _, f := range folders {
			m.pending = append(m.pending, f.Name)
		}
		m.mu.Unlock()
		return
	}
	if m.groupCtx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	for _, f := range folders {
		m.watchFolder(f.Name)
	}
}

// watchFolder starts a watcher for the folder unless one is running.
func (m *Monitor) watchFolder(folder string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.known[folder] {
		return
	}
	m.known[folder] = true

	w := &watcher{
		folder:       folder,
		idle:         m.idleFolder(folder),
		dial:         m.dial,
		marks:        m.marks,
		sink:         m.sink,
		logger:       m.logger,
		idleTimeout:  m.cfg.IdleTimeout,
		pollInterval: m.cfg.PollInterval,
		backoff:      retry.Network(),
	}

	m.logger.Info("watching folder",
		zap.String("folder", folder), zap.Bool("idle", w.idle))

	m.group.Go(func() error { return w.run(m.groupCtx) })
}

func (m *Monitor) idleFolder(folder string) bool {
	for _, name := range m.cfg.IdleFolders {
		if strings.EqualFold(name, folder) {
			return true
		}
	}
	return false
}

// refreshLoop periodically re-lists server folders so newly created ones
// get watchers without a restart.
func (m *Monitor) refreshLoop(ctx context.Context) error {
	if m.cfg.RefreshInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		folders, err := m.listFolders(ctx)
		if err != nil {
			if mailbox.IsAuthError(err) {
				return err
			}
			m.logger.Warn("folder refresh failed", zap.Error(err))
			continue
		}
		for _, folder := range folders {
			m.watchFolder(folder)
		}
	}
}

// listFolders opens a short-lived session just to enumerate folders.
func (m *Monitor) listFolders(ctx context.Context) ([]string, error) {
	session, err := m.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	return session.ListFolders(ctx)
}
