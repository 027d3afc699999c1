// Package contracts defines the integration contracts inside the mailbox
// classifier: the persistence surface, the IMAP session surface, and the
// local model endpoint. Implementations live under internal/.
package contracts

import "context"

// Message is one mail message as observed in a watched folder.
type Message struct {
	ID          string // Message-ID header, or a generated placeholder
	Folder      string // folder the message was observed in
	UID         uint32 // IMAP UID within Folder; ascends in arrival order
	Subject     string
	From        string
	Body        string // cleaned plain text
	Attachments []string
}

// ClassificationResult is a validated prediction. Folder is always a member
// of the folder set the classifier was given; Confidence is zero whenever a
// fallback was substituted for the model's prediction.
type ClassificationResult struct {
	Folder     string
	Labels     []string
	Confidence float64
}

// FolderDescriptor names a classification target together with the
// description embedded in classification prompts.
type FolderDescriptor struct {
	Name        string
	Description string
}

// Store is the persistence contract. One SQLite database holds three
// tables: classification outcomes keyed by message ID, folder descriptors
// keyed by name, and per-folder high-water marks.
type Store interface {
	// HasResult reports whether any outcome row exists for the message,
	// including unclassified records. The processing queue checks this
	// before classifying so reprocessing a folder is idempotent.
	HasResult(ctx context.Context, messageID string) (bool, error)

	// SaveResult records a validated classification.
	SaveResult(ctx context.Context, msg *Message, result *ClassificationResult) error

	// SaveUnclassified records the message with a null classification so
	// a failed message is not retried forever.
	SaveUnclassified(ctx context.Context, msg *Message) error

	// MarkMoved records that the message left its source folder.
	MarkMoved(ctx context.Context, messageID string) error

	// Folders returns all descriptors ordered by name.
	Folders(ctx context.Context) ([]FolderDescriptor, error)

	// UpsertFolder inserts or updates one descriptor.
	UpsertFolder(ctx context.Context, f FolderDescriptor) error

	// RenameFolder moves a descriptor to a new name, dropping the old row
	// when the destination already exists. Taxonomy normalization applies
	// its rename map through this.
	RenameFolder(ctx context.Context, oldName, newName string) error

	// LastUID returns the folder's high-water mark; known is false when
	// the folder has never been contacted. On first contact the mark is
	// established at UIDNEXT-1 so existing history is never re-scanned.
	LastUID(ctx context.Context, folder string) (uid uint32, known bool, err error)

	// SetLastUID advances the mark. It is written after each message is
	// handed to the queue, which makes delivery at-least-once: a crash
	// between enqueue and write re-observes one message, and HasResult
	// deduplicates it.
	SetLastUID(ctx context.Context, folder string, uid uint32) error

	Close() error
}
