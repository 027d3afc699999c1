package model

// Message is one mail message as observed in a watched folder. It is
// immutable once fetched; the processing queue owns it from enqueue until
// its classification outcome is persisted.
type Message struct {
	// ID is the stable identifier for the message, normally the
	// Message-ID header. When the header is absent a generated
	// placeholder is used so the message can still be persisted.
	ID string `json:"id"`

	// Folder is the mailbox folder the message was observed in.
	Folder string `json:"folder"`

	// UID is the message's IMAP UID within Folder. UIDs ascend in
	// arrival order, so it doubles as the arrival sequence number.
	UID uint32 `json:"uid"`

	// Subject is the decoded subject line.
	Subject string `json:"subject"`

	// From is the sender, either the display name or the address.
	From string `json:"from"`

	// Body is the cleaned plain-text body.
	Body string `json:"body"`

	// Attachments lists attachment filenames, if any.
	Attachments []string `json:"attachments,omitempty"`
}
