// Package classify turns messages and folder descriptions into validated
// classification results, tolerating an unreliable model backend, and owns
// the folder-taxonomy suggestion, refinement and normalization operations.
package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jbroll/mailmap/internal/content"
	"github.com/jbroll/mailmap/internal/llm"
	"github.com/jbroll/mailmap/internal/model"
)

// ErrNoFolders is returned when classification is attempted against an
// empty folder set. There is no folder to fall back to, so this is a hard
// error rather than a guess.
var ErrNoFolders = errors.New("no known folders to classify into")

// DefaultFolderName receives mail when no taxonomy exists or suggestion
// fails entirely.
const DefaultFolderName = "INBOX"

// Classifier issues classification and taxonomy calls against a model
// backend and validates everything the model returns.
type Classifier struct {
	gen       llm.Generator
	threshold float64
	fallback  string
	logger    *zap.Logger
}

// Options configures a Classifier.
type Options struct {
	// ConfidenceThreshold is the minimum confidence for a prediction to
	// stand on its own.
	ConfidenceThreshold float64

	// FallbackFolder, when set, receives invalid or under-confident
	// predictions. It must name a known folder to take effect.
	FallbackFolder string

	// Logger receives parse-recovery and fallback events.
	Logger *zap.Logger
}

// New creates a Classifier over the given generator.
func New(gen llm.Generator, opts Options) *Classifier {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{
		gen:       gen,
		threshold: opts.ConfidenceThreshold,
		fallback:  opts.FallbackFolder,
		logger:    log,
	}
}

// Classify assigns msg to one of the known folders. The returned folder is
// always a member of folders; invalid or under-confident predictions
// resolve to the fallback folder with confidence reported as zero.
func (c *Classifier) Classify(
	ctx context.Context,
	msg *model.Message,
	folders []model.FolderDescriptor,
) (*model.ClassificationResult, error) {
	if len(folders) == 0 {
		return nil, ErrNoFolders
	}

	summary := content.Summarize(msg.Subject, msg.From, msg.Body)
	text, err := c.gen.Generate(ctx, classifyPrompt(summary, folders))
	if err != nil {
		return nil, fmt.Errorf("classification call for %s: %w", msg.ID, err)
	}

	p, err := c.parseResponse(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("classification response for %s: %w", msg.ID, err)
	}

	known := folderNames(folders)
	fallback := c.resolveFallback(known)

	var (
		predicted  string
		havePred   bool
		confidence float64
		haveConf   bool
		labels     []string
	)
	if p.kind == parsedObject {
		predicted, havePred = stringField(p.object, "predicted_folder")
		confidence, haveConf = floatField(p.object, "confidence")
		labels = stringsField(p.object, "secondary_labels")
	}

	if havePred && !memberOf(known, predicted) {
		if matched, ok := matchFolderName(predicted, known); ok {
			c.logger.Debug("normalized predicted folder",
				zap.String("predicted", predicted),
				zap.String("matched", matched))
			predicted = matched
		} else {
			havePred = false
		}
	}

	if !havePred {
		c.logger.Warn("invalid or missing predicted folder, using fallback",
			zap.String("message_id", msg.ID),
			zap.String("fallback", fallback))
		predicted = fallback
		confidence = 0
	} else if !haveConf || confidence < 0 || confidence < c.threshold {
		c.logger.Info("low confidence, routing to fallback",
			zap.String("message_id", msg.ID),
			zap.Float64("confidence", confidence),
			zap.String("fallback", fallback))
		predicted = fallback
		confidence = 0
	}

	return &model.ClassificationResult{
		Folder:     predicted,
		Labels:     labels,
		Confidence: confidence,
	}, nil
}

// resolveFallback picks the fallback folder from the known set: the
// configured fallback when it names a known folder, else the first folder
// matching the miscellaneous/uncategorized naming convention, else the
// first known folder.
func (c *Classifier) resolveFallback(known []string) string {
	if c.fallback != "" {
		if memberOf(known, c.fallback) {
			return c.fallback
		}
		if matched, ok := matchFolderName(c.fallback, known); ok {
			return matched
		}
	}
	for _, name := range known {
		if matchesMiscConvention(name) {
			return name
		}
	}
	return known[0]
}

// defaultFolder is the folder suggestion degrades to.
func (c *Classifier) defaultFolder() string {
	if c.fallback != "" {
		return c.fallback
	}
	return DefaultFolderName
}

// matchesMiscConvention reports whether a folder name follows the
// miscellaneous/uncategorized naming convention.
func matchesMiscConvention(name string) bool {
	l := strings.ToLower(name)
	return strings.HasPrefix(l, "misc") || strings.Contains(l, "uncategorized")
}

// matchFolderName matches a predicted name against the known set,
// tolerating case differences and singular/plural variation.
func matchFolderName(predicted string, known []string) (string, bool) {
	lower := make(map[string]string, len(known))
	for _, name := range known {
		lower[strings.ToLower(name)] = name
	}

	p := strings.ToLower(predicted)
	if name, ok := lower[p]; ok {
		return name, true
	}
	if strings.HasSuffix(p, "s") {
		if name, ok := lower[strings.TrimSuffix(p, "s")]; ok {
			return name, true
		}
	} else if name, ok := lower[p+"s"]; ok {
		return name, true
	}
	return "", false
}

func folderNames(folders []model.FolderDescriptor) []string {
	names := make([]string, len(folders))
	for i, f := range folders {
		names[i] = f.Name
	}
	return names
}

func memberOf(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
