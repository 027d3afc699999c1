package model

import "time"

// FolderDescriptor describes one known mailbox folder. Descriptions drive
// classification prompts and are regenerated when folder contents change.
type FolderDescriptor struct {
	// Name is the folder's mailbox name on the server.
	Name string `json:"name"`

	// Description is free text summarizing what the folder holds.
	Description string `json:"description"`

	// LastUpdated is when the description was last refreshed.
	LastUpdated time.Time `json:"last_updated"`
}

// SuggestedFolder is a candidate folder produced by taxonomy suggestion.
// It is not authoritative until accepted into the folder set.
type SuggestedFolder struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Criteria    []string `json:"criteria,omitempty"`
}

// RenameMap maps pre-consolidation category names to their
// post-consolidation names. Normalization guarantees that every original
// category name appears as a key.
type RenameMap map[string]string
