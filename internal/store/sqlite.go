package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jbroll/mailmap/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// HasResult reports whether any outcome row exists for the message.
func (s *SQLiteStore) HasResult(ctx context.Context, messageID string) (bool, error) {
	var count int
	err := s.db.GetContext(
		ctx, &count,
		"SELECT COUNT(*) FROM messages WHERE message_id = ?", messageID,
	)
	if err != nil {
		return false, fmt.Errorf("checking result for %s: %w", messageID, err)
	}
	return count > 0, nil
}

// SaveResult records a validated classification outcome for the message.
func (s *SQLiteStore) SaveResult(
	ctx context.Context,
	msg *model.Message,
	result *model.ClassificationResult,
) error {
	labels, err := json.Marshal(result.Labels)
	if err != nil {
		return fmt.Errorf("marshaling labels for %s: %w", msg.ID, err)
	}

	const query = `
		INSERT OR REPLACE INTO messages (
			message_id, folder, uid, subject, sender,
			classified_folder, labels, confidence, moved, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`

	_, err = s.db.ExecContext(ctx, query,
		msg.ID, msg.Folder, msg.UID, msg.Subject, msg.From,
		result.Folder, string(labels), result.Confidence, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving result for %s: %w", msg.ID, err)
	}
	return nil
}

// SaveUnclassified records the message with a null classification.
func (s *SQLiteStore) SaveUnclassified(ctx context.Context, msg *model.Message) error {
	const query = `
		INSERT OR REPLACE INTO messages (
			message_id, folder, uid, subject, sender,
			classified_folder, labels, confidence, moved, processed_at
		) VALUES (?, ?, ?, ?, ?, NULL, '[]', NULL, 0, ?)`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.Folder, msg.UID, msg.Subject, msg.From, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving unclassified %s: %w", msg.ID, err)
	}
	return nil
}

// MarkMoved records that the message left its source folder.
func (s *SQLiteStore) MarkMoved(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(
		ctx, "UPDATE messages SET moved = 1 WHERE message_id = ?", messageID,
	)
	if err != nil {
		return fmt.Errorf("marking %s moved: %w", messageID, err)
	}
	return nil
}

// messageRow is the scan target for the messages table.
type messageRow struct {
	MessageID   string          `db:"message_id"`
	Folder      string          `db:"folder"`
	UID         int64           `db:"uid"`
	Subject     string          `db:"subject"`
	Sender      string          `db:"sender"`
	Classified  sql.NullString  `db:"classified_folder"`
	Labels      string          `db:"labels"`
	Confidence  sql.NullFloat64 `db:"confidence"`
	Moved       int             `db:"moved"`
	ProcessedAt time.Time       `db:"processed_at"`
}

// GetMessage retrieves one persisted outcome, or nil when absent.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*StoredMessage, error) {
	var row messageRow
	err := s.db.GetContext(
		ctx, &row,
		`SELECT message_id, folder, uid, subject, sender,
			classified_folder, labels, confidence, moved, processed_at
		 FROM messages WHERE message_id = ?`,
		messageID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", messageID, err)
	}

	var labels []string
	if err := json.Unmarshal([]byte(row.Labels), &labels); err != nil {
		return nil, fmt.Errorf("parsing labels for %s: %w", messageID, err)
	}

	return &StoredMessage{
		MessageID:   row.MessageID,
		Folder:      row.Folder,
		UID:         uint32(row.UID),
		Subject:     row.Subject,
		Sender:      row.Sender,
		Classified:  row.Classified.String,
		Labels:      labels,
		Confidence:  row.Confidence.Float64,
		HasResult:   row.Classified.Valid,
		Moved:       row.Moved != 0,
		ProcessedAt: row.ProcessedAt,
	}, nil
}

// folderRow is the scan target for the folders table.
type folderRow struct {
	Name        string    `db:"name"`
	Description string    `db:"description"`
	LastUpdated time.Time `db:"last_updated"`
}

// Folders returns all folder descriptors ordered by name.
func (s *SQLiteStore) Folders(ctx context.Context) ([]model.FolderDescriptor, error) {
	var rows []folderRow
	err := s.db.SelectContext(
		ctx, &rows,
		"SELECT name, description, last_updated FROM folders ORDER BY name",
	)
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}

	folders := make([]model.FolderDescriptor, len(rows))
	for i, r := range rows {
		folders[i] = model.FolderDescriptor{
			Name:        r.Name,
			Description: r.Description,
			LastUpdated: r.LastUpdated,
		}
	}
	return folders, nil
}

// UpsertFolder inserts or replaces a folder descriptor.
func (s *SQLiteStore) UpsertFolder(ctx context.Context, f model.FolderDescriptor) error {
	updated := f.LastUpdated
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	const query = `
		INSERT INTO folders (name, description, last_updated)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			last_updated = excluded.last_updated`

	if _, err := s.db.ExecContext(ctx, query, f.Name, f.Description, updated); err != nil {
		return fmt.Errorf("upserting folder %s: %w", f.Name, err)
	}
	return nil
}

// RenameFolder moves a descriptor to newName, keeping its description. When
// the destination already exists the old row is simply dropped.
func (s *SQLiteStore) RenameFolder(ctx context.Context, oldName, newName string) error {
	if oldName == newName {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rename transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO folders (name, description, last_updated)
		 SELECT ?, description, CURRENT_TIMESTAMP FROM folders WHERE name = ?
		 ON CONFLICT(name) DO NOTHING`,
		newName, oldName,
	)
	if err != nil {
		return fmt.Errorf("renaming folder %s to %s: %w", oldName, newName, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM folders WHERE name = ?", oldName); err != nil {
		return fmt.Errorf("dropping renamed folder %s: %w", oldName, err)
	}

	return tx.Commit()
}

// LastUID returns the folder's high-water mark, with known reporting
// whether one was ever recorded.
func (s *SQLiteStore) LastUID(ctx context.Context, folder string) (uint32, bool, error) {
	var uid int64
	err := s.db.GetContext(
		ctx, &uid, "SELECT last_uid FROM marks WHERE folder = ?", folder,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading mark for %s: %w", folder, err)
	}
	return uint32(uid), true, nil
}

// SetLastUID advances the folder's high-water mark.
func (s *SQLiteStore) SetLastUID(ctx context.Context, folder string, uid uint32) error {
	_, err := s.db.ExecContext(
		ctx,
		"INSERT OR REPLACE INTO marks (folder, last_uid) VALUES (?, ?)",
		folder, uid,
	)
	if err != nil {
		return fmt.Errorf("setting mark for %s: %w", folder, err)
	}
	return nil
}
