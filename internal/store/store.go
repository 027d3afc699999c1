package store

import (
	"context"
	"time"

	"github.com/jbroll/mailmap/internal/model"
)

// StoredMessage is a persisted classification outcome. Classified is empty
// for messages recorded without a result.
type StoredMessage struct {
	MessageID   string
	Folder      string
	UID         uint32
	Subject     string
	Sender      string
	Classified  string
	Labels      []string
	Confidence  float64
	HasResult   bool
	Moved       bool
	ProcessedAt time.Time
}

// Store defines the persistence interface for classification outcomes,
// folder descriptors and per-folder high-water marks.
type Store interface {
	// === Classification outcomes ===

	// HasResult reports whether a classification outcome (including an
	// unclassified record) exists for the message.
	HasResult(ctx context.Context, messageID string) (bool, error)

	// SaveResult records a validated classification for the message.
	SaveResult(ctx context.Context, msg *model.Message, result *model.ClassificationResult) error

	// SaveUnclassified records the message with a null classification
	// after its classification failed.
	SaveUnclassified(ctx context.Context, msg *model.Message) error

	// MarkMoved records that the message was moved to its predicted
	// folder.
	MarkMoved(ctx context.Context, messageID string) error

	// GetMessage retrieves one persisted outcome, or nil when absent.
	GetMessage(ctx context.Context, messageID string) (*StoredMessage, error)

	// === Folder descriptors ===

	Folders(ctx context.Context) ([]model.FolderDescriptor, error)
	UpsertFolder(ctx context.Context, f model.FolderDescriptor) error

	// RenameFolder moves a descriptor to a new name, dropping the old row
	// when the destination already exists.
	RenameFolder(ctx context.Context, oldName, newName string) error

	// === High-water marks ===

	// LastUID returns the folder's high-water mark. known is false when
	// the folder has never been marked.
	LastUID(ctx context.Context, folder string) (uid uint32, known bool, err error)
	SetLastUID(ctx context.Context, folder string, uid uint32) error

	Close() error
}
