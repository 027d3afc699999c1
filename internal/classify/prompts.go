package classify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jbroll/mailmap/internal/content"
	"github.com/jbroll/mailmap/internal/model"
)

// sampleBodyLimit caps body previews inside taxonomy prompts.
const sampleBodyLimit = 150

const classifyTemplate = `You are an email classifier. Assign the email below to exactly one of these folders:

%s

Email:
  From: %s
  Subject: %s
  Body: %s

Respond with JSON only, no other text:
{"predicted_folder": "<folder name>", "secondary_labels": ["<optional label>"], "confidence": <0.0-1.0>}

JSON:`

const describeTemplate = `Write a one-sentence description of an email folder named "%s" based on these sample emails:
%s

Respond with the description only, no JSON, no preamble.

Description:`

const suggestTemplate = `Analyze these %d emails and suggest a folder structure for organizing them.
%s

Respond with a JSON array only, no other text:
[{"name": "<folder name>", "description": "<what belongs here>", "example_criteria": ["<criterion>"]}]

JSON:`

const refineTemplate = `You are building an email folder taxonomy iteratively. This is batch %d.

Existing categories:
%s

New emails:
%s

Assign each email to an existing category or propose a new one. Respond with JSON only:
{"categories": [{"name": "<name>", "description": "<description>", "example_criteria": []}], "email_assignments": [{"email_index": <1-based index>, "category": "<name>"}]}

JSON:`

const normalizeTemplate = `Consolidate duplicate or overlapping categories from this list of %d:

%s

Merge categories that cover the same kind of mail. Every original category name must appear as a key of rename_map, mapping to its consolidated name (a category keeping its name maps to itself).

Respond with JSON only:
{"consolidated_categories": [{"name": "<name>", "description": "<description>", "merged_from": ["<original>"]}], "rename_map": {"<original name>": "<consolidated name>"}}

JSON:`

const repairTemplate = `The following JSON is malformed. Return only the corrected JSON, nothing else:

%s

JSON:`

const repairRenameTemplate = `You previously consolidated %d categories into %d, but the rename_map is missing %d entries.

ORIGINAL CATEGORIES (before consolidation):
%s

CONSOLIDATED CATEGORIES (after consolidation):
%s

EXISTING MAPPINGS (already done correctly):
%s

MISSING FROM RENAME_MAP (need to be mapped):
%s

For each missing category, pick the consolidated category it should map to based on semantic similarity. Look at the existing mappings to understand the consolidation pattern.

Respond with JSON only:
{"mappings": {"<missing category>": "<consolidated category>"}}

JSON:`

// folderLines renders "- name: description" lines for prompt embedding.
func folderLines(folders []model.FolderDescriptor) string {
	lines := make([]string, 0, len(folders))
	for _, f := range folders {
		lines = append(lines, fmt.Sprintf("- %s: %s", f.Name, f.Description))
	}
	return strings.Join(lines, "\n")
}

// categoryLines renders "- name: description" lines for suggested folders.
func categoryLines(categories []model.SuggestedFolder) string {
	lines := make([]string, 0, len(categories))
	for _, c := range categories {
		lines = append(lines, fmt.Sprintf("- %s: %s", c.Name, c.Description))
	}
	return strings.Join(lines, "\n")
}

// sampleLines renders numbered message previews for prompt embedding.
func sampleLines(msgs []model.Message, maxMsgs int) string {
	if len(msgs) > maxMsgs {
		msgs = msgs[:maxMsgs]
	}
	var b strings.Builder
	for i, m := range msgs {
		s := content.Summarize(m.Subject, m.From, m.Body)
		fmt.Fprintf(&b, "\nEmail %d:\n  From: %s\n  Subject: %s\n  Preview: %s\n",
			i+1, s.From, s.Subject, content.Clean(s.Body, sampleBodyLimit))
	}
	return b.String()
}

func classifyPrompt(s content.Summary, folders []model.FolderDescriptor) string {
	return fmt.Sprintf(classifyTemplate, folderLines(folders), s.From, s.Subject, s.Body)
}

func describePrompt(name string, msgs []model.Message) string {
	return fmt.Sprintf(describeTemplate, name, sampleLines(msgs, DescribeSampleLimit))
}

func suggestPrompt(msgs []model.Message, count int) string {
	return fmt.Sprintf(suggestTemplate, count, sampleLines(msgs, count))
}

func refinePrompt(existing []model.SuggestedFolder, msgs []model.Message, batchNum int) string {
	categories := "(none yet - first batch)"
	if len(existing) > 0 {
		categories = categoryLines(existing)
	}
	return fmt.Sprintf(refineTemplate, batchNum, categories, sampleLines(msgs, RefineBatchSize))
}

func normalizePrompt(categories []model.SuggestedFolder) string {
	return fmt.Sprintf(normalizeTemplate, len(categories), categoryLines(categories))
}

func repairPrompt(broken string) string {
	return fmt.Sprintf(repairTemplate, broken)
}

func repairRenamePrompt(
	original, consolidated []model.SuggestedFolder,
	partial model.RenameMap,
	missing []string,
) string {
	byName := make(map[string]model.SuggestedFolder, len(original))
	for _, c := range original {
		byName[c.Name] = c
	}

	missingLines := make([]string, 0, len(missing))
	for _, name := range missing {
		missingLines = append(missingLines, fmt.Sprintf("- %s: %s", name, byName[name].Description))
	}

	mapped := make([]string, 0, len(partial))
	for old, newName := range partial {
		mapped = append(mapped, fmt.Sprintf("  %s -> %s", old, newName))
	}
	sort.Strings(mapped)

	return fmt.Sprintf(repairRenameTemplate,
		len(original), len(consolidated), len(missing),
		categoryLines(original), categoryLines(consolidated),
		strings.Join(mapped, "\n"), strings.Join(missingLines, "\n"))
}
