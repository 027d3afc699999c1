package classify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/jbroll/mailmap/internal/model"
)

// SuggestSampleLimit caps how many messages feed one suggestion call.
const SuggestSampleLimit = 250

// RefineBatchSize is the per-call batch bound for taxonomy refinement.
const RefineBatchSize = 100

// DescribeSampleLimit caps samples per folder-description call.
const DescribeSampleLimit = 5

// Assignment records which category the model assigned to one message of a
// refinement batch. EmailIndex is 1-based within the batch.
type Assignment struct {
	EmailIndex int    `json:"email_index"`
	Category   string `json:"category"`
}

// Suggest asks the model for a folder structure covering the sample
// messages. Entries missing a name or description are dropped; an empty or
// unparseable result degrades to a single default folder.
func (c *Classifier) Suggest(
	ctx context.Context,
	samples []model.Message,
) ([]model.SuggestedFolder, error) {
	count := len(samples)
	if count > SuggestSampleLimit {
		count = SuggestSampleLimit
	}

	text, err := c.gen.Generate(ctx, suggestPrompt(samples, count))
	if err != nil {
		return nil, fmt.Errorf("suggestion call: %w", err)
	}

	p, err := c.parseResponse(ctx, text)
	if err != nil {
		c.logger.Warn("unparseable suggestion response, using default folder",
			zap.Error(err))
		return c.defaultSuggestion(), nil
	}

	var folders []model.SuggestedFolder
	if p.kind == parsedArray {
		for _, item := range p.array {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name, okName := stringField(obj, "name")
			desc, okDesc := stringField(obj, "description")
			if !okName || !okDesc {
				continue
			}
			folders = append(folders, model.SuggestedFolder{
				Name:        name,
				Description: desc,
				Criteria:    stringsField(obj, "example_criteria"),
			})
		}
	}

	if len(folders) == 0 {
		c.logger.Warn("suggestion produced no usable folders, using default")
		return c.defaultSuggestion(), nil
	}
	return folders, nil
}

// defaultSuggestion is the degraded single-folder taxonomy.
func (c *Classifier) defaultSuggestion() []model.SuggestedFolder {
	return []model.SuggestedFolder{{
		Name:        c.defaultFolder(),
		Description: "General incoming mail that doesn't fit other categories",
		Criteria:    []string{"Uncategorized emails", "New contacts"},
	}}
}

// Refine feeds one batch of messages to the model and merges the resulting
// categories into the running list. Categories come from the response's
// explicit list and from per-message assignments; existing categories the
// model did not mention are preserved. Partial assignment is tolerated. A
// response that defeats all parse tiers leaves the category list unchanged.
func (c *Classifier) Refine(
	ctx context.Context,
	existing []model.SuggestedFolder,
	batch []model.Message,
	batchNum int,
) ([]model.SuggestedFolder, []Assignment, error) {
	text, err := c.gen.Generate(ctx, refinePrompt(existing, batch, batchNum))
	if err != nil {
		return nil, nil, fmt.Errorf("refinement call for batch %d: %w", batchNum, err)
	}

	p, err := c.parseResponse(ctx, text)
	if err != nil || p.kind != parsedObject {
		c.logger.Warn("unparseable refinement response, keeping categories",
			zap.Int("batch", batchNum), zap.Error(err))
		return existing, nil, nil
	}

	var assignments []Assignment
	for _, obj := range objectsField(p.object, "email_assignments") {
		category, ok := stringField(obj, "category")
		if !ok {
			continue
		}
		index, _ := floatField(obj, "email_index")
		assignments = append(assignments, Assignment{
			EmailIndex: int(index),
			Category:   category,
		})
	}

	var merged []model.SuggestedFolder
	seen := make(map[string]bool)
	add := func(f model.SuggestedFolder) {
		if f.Name == "" || seen[f.Name] {
			return
		}
		seen[f.Name] = true
		merged = append(merged, f)
	}

	for _, obj := range objectsField(p.object, "categories") {
		name, ok := stringField(obj, "name")
		if !ok {
			continue
		}
		desc, _ := stringField(obj, "description")
		add(model.SuggestedFolder{
			Name:        name,
			Description: desc,
			Criteria:    stringsField(obj, "example_criteria"),
		})
	}
	for _, a := range assignments {
		add(model.SuggestedFolder{
			Name:        a.Category,
			Description: fmt.Sprintf("Emails assigned to %s", a.Category),
		})
	}
	for _, f := range existing {
		add(f)
	}

	return merged, assignments, nil
}

// Normalize consolidates overlapping categories and returns the
// consolidated list with a rename map from every original name to its
// destination. Fewer than two categories short-circuit to the identity with
// no model call. Missing rename entries trigger one targeted repair call;
// names the repair still cannot place map to themselves and their category
// is retained.
func (c *Classifier) Normalize(
	ctx context.Context,
	categories []model.SuggestedFolder,
) ([]model.SuggestedFolder, model.RenameMap, error) {
	if len(categories) < 2 {
		return categories, identityMap(categories), nil
	}

	text, err := c.gen.Generate(ctx, normalizePrompt(categories))
	if err != nil {
		return nil, nil, fmt.Errorf("normalization call: %w", err)
	}

	p, err := c.parseResponse(ctx, text)
	if err != nil || p.kind != parsedObject {
		c.logger.Warn("unparseable normalization response, keeping categories",
			zap.Error(err))
		return categories, identityMap(categories), nil
	}

	var consolidated []model.SuggestedFolder
	for _, obj := range objectsField(p.object, "consolidated_categories") {
		name, ok := stringField(obj, "name")
		if !ok {
			continue
		}
		desc, _ := stringField(obj, "description")
		consolidated = append(consolidated, model.SuggestedFolder{
			Name:        name,
			Description: desc,
			Criteria:    stringsField(obj, "merged_from"),
		})
	}

	renames := model.RenameMap(stringMapField(p.object, "rename_map"))
	if renames == nil {
		renames = model.RenameMap{}
	}

	missing := missingNames(categories, renames)
	if len(missing) > 0 {
		c.logger.Warn("rename map incomplete, requesting repair",
			zap.Int("missing", len(missing)))
		c.repairRenameMap(ctx, categories, consolidated, renames, missing)

		// Whatever the repair could not place maps to itself, and its
		// category survives with the original description.
		consolidatedNames := make(map[string]bool, len(consolidated))
		for _, cat := range consolidated {
			consolidatedNames[cat.Name] = true
		}
		for _, name := range missingNames(categories, renames) {
			renames[name] = name
			if !consolidatedNames[name] {
				consolidated = append(consolidated, categoryByName(categories, name))
				consolidatedNames[name] = true
			}
		}
	}

	return consolidated, renames, nil
}

// repairRenameMap makes one model call asking for the missing mappings and
// merges any usable answers into renames.
func (c *Classifier) repairRenameMap(
	ctx context.Context,
	original, consolidated []model.SuggestedFolder,
	renames model.RenameMap,
	missing []string,
) {
	text, err := c.gen.Generate(ctx, repairRenamePrompt(original, consolidated, renames, missing))
	if err != nil {
		c.logger.Warn("rename map repair call failed", zap.Error(err))
		return
	}

	p, ok := decodeAny(strings.TrimSpace(text))
	if !ok {
		for _, cand := range spanCandidates(text) {
			if p, ok = decodeAny(cand); ok {
				break
			}
		}
	}
	if !ok || p.kind != parsedObject {
		c.logger.Warn("unparseable rename map repair response")
		return
	}

	wanted := make(map[string]bool, len(missing))
	for _, name := range missing {
		wanted[name] = true
	}
	for old, dest := range stringMapField(p.object, "mappings") {
		if wanted[old] {
			renames[old] = dest
		}
	}
}

// DescribeFolder generates a one-line description of a folder from sample
// messages. Generation failures degrade to a plain placeholder unless the
// context is already done.
func (c *Classifier) DescribeFolder(
	ctx context.Context,
	name string,
	samples []model.Message,
) (string, error) {
	text, err := c.gen.Generate(ctx, describePrompt(name, samples))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn("folder description call failed, using placeholder",
			zap.String("folder", name), zap.Error(err))
		return fmt.Sprintf("Folder named %s", name), nil
	}
	return strings.TrimSpace(text), nil
}

func identityMap(categories []model.SuggestedFolder) model.RenameMap {
	m := make(model.RenameMap, len(categories))
	for _, c := range categories {
		m[c.Name] = c.Name
	}
	return m
}

// missingNames returns, sorted, the original category names absent from the
// rename map's key set.
func missingNames(categories []model.SuggestedFolder, renames model.RenameMap) []string {
	var missing []string
	for _, c := range categories {
		if _, ok := renames[c.Name]; !ok {
			missing = append(missing, c.Name)
		}
	}
	sort.Strings(missing)
	return missing
}

func categoryByName(categories []model.SuggestedFolder, name string) model.SuggestedFolder {
	for _, c := range categories {
		if c.Name == name {
			return c
		}
	}
	return model.SuggestedFolder{
		Name:        name,
		Description: fmt.Sprintf("Emails in %s", name),
	}
}
