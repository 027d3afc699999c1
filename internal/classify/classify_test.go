package classify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jbroll/mailmap/internal/model"
)

// fakeGen serves scripted responses in order, repeating the last one, and
// records every prompt it was asked for.
type fakeGen struct {
	responses []string
	err       error
	prompts   []string
}

func (f *fakeGen) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	i := len(f.prompts) - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

func descriptors(names ...string) []model.FolderDescriptor {
	out := make([]model.FolderDescriptor, len(names))
	for i, n := range names {
		out[i] = model.FolderDescriptor{Name: n, Description: "about " + n}
	}
	return out
}

func testMessage() *model.Message {
	return &model.Message{
		ID:      "<test@example.com>",
		Folder:  "INBOX",
		UID:     7,
		Subject: "Quarterly report",
		From:    "Alice <alice@example.com>",
		Body:    "Please find the report attached.",
	}
}

func TestClassifyValidPrediction(t *testing.T) {
	gen := &fakeGen{responses: []string{
		`{"predicted_folder":"Work","confidence":0.9,"secondary_labels":["finance","reports"]}`,
	}}
	c := New(gen, Options{ConfidenceThreshold: 0.6})

	result, err := c.Classify(context.Background(), testMessage(), descriptors("INBOX", "Work"))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.Folder != "Work" {
		t.Errorf("Folder = %q, want Work", result.Folder)
	}
	if result.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", result.Confidence)
	}
	if len(result.Labels) != 2 || result.Labels[0] != "finance" {
		t.Errorf("Labels = %v, want [finance reports]", result.Labels)
	}
	if len(gen.prompts) != 1 {
		t.Errorf("made %d model calls, want 1", len(gen.prompts))
	}
}

func TestClassifyUnknownFolderFallsBackToMisc(t *testing.T) {
	gen := &fakeGen{responses: []string{
		`{"predicted_folder":"InvalidFolder","confidence":0.95}`,
	}}
	c := New(gen, Options{ConfidenceThreshold: 0.6})

	result, err := c.Classify(context.Background(), testMessage(), descriptors("INBOX", "Work", "Misc"))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.Folder != "Misc" {
		t.Errorf("Folder = %q, want Misc", result.Folder)
	}
	if result.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0 after fallback", result.Confidence)
	}
}

func TestClassifyLowConfidenceUsesConfiguredFallback(t *testing.T) {
	gen := &fakeGen{responses: []string{
		`{"predicted_folder":"Work","confidence":0.3}`,
	}}
	c := New(gen, Options{ConfidenceThreshold: 0.5, FallbackFolder: "INBOX"})

	result, err := c.Classify(context.Background(), testMessage(), descriptors("INBOX", "Work"))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.Folder != "INBOX" {
		t.Errorf("Folder = %q, want INBOX", result.Folder)
	}
	if result.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0 after fallback", result.Confidence)
	}
}

func TestClassifyEmptyFolderSet(t *testing.T) {
	gen := &fakeGen{responses: []string{`{}`}}
	c := New(gen, Options{})

	_, err := c.Classify(context.Background(), testMessage(), nil)
	if !errors.Is(err, ErrNoFolders) {
		t.Fatalf("err = %v, want ErrNoFolders", err)
	}
	if len(gen.prompts) != 0 {
		t.Errorf("made %d model calls, want 0", len(gen.prompts))
	}
}

func TestClassifyNeverLeavesKnownSet(t *testing.T) {
	known := descriptors("Alpha", "Beta")

	cases := []struct {
		name     string
		response string
	}{
		{"empty object", `{}`},
		{"unknown folder", `{"predicted_folder":"Gamma","confidence":0.99}`},
		{"missing confidence", `{"predicted_folder":"Alpha"}`},
		{"negative confidence", `{"predicted_folder":"Alpha","confidence":-0.2}`},
		{"string confidence", `{"predicted_folder":"Beta","confidence":"0.8"}`},
		{"array response", `[1,2,3]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &fakeGen{responses: []string{tc.response}}
			c := New(gen, Options{ConfidenceThreshold: 0.6})

			result, err := c.Classify(context.Background(), testMessage(), known)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if result.Folder != "Alpha" && result.Folder != "Beta" {
				t.Errorf("Folder = %q, outside known set", result.Folder)
			}
		})
	}
}

func TestClassifySubstringRecoverySkipsRepair(t *testing.T) {
	gen := &fakeGen{responses: []string{
		"Sure! Here is the classification:\n" +
			`{"predicted_folder":"Work","confidence":0.8}` + "\nLet me know.",
	}}
	c := New(gen, Options{ConfidenceThreshold: 0.6})

	result, err := c.Classify(context.Background(), testMessage(), descriptors("INBOX", "Work"))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.Folder != "Work" || result.Confidence != 0.8 {
		t.Errorf("got %q/%v, want Work/0.8", result.Folder, result.Confidence)
	}
	if len(gen.prompts) != 1 {
		t.Errorf("made %d model calls, want 1 (no repair)", len(gen.prompts))
	}
}

func TestClassifyRepairCalledExactlyOnce(t *testing.T) {
	gen := &fakeGen{responses: []string{
		`{"predicted_folder": "Work", "confidence": 0.8`,
		`{"predicted_folder": "Work", "confidence": 0.8}`,
	}}
	c := New(gen, Options{ConfidenceThreshold: 0.6})

	result, err := c.Classify(context.Background(), testMessage(), descriptors("INBOX", "Work"))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.Folder != "Work" || result.Confidence != 0.8 {
		t.Errorf("got %q/%v, want Work/0.8", result.Folder, result.Confidence)
	}
	if len(gen.prompts) != 2 {
		t.Fatalf("made %d model calls, want 2 (classify + repair)", len(gen.prompts))
	}
	if !strings.Contains(gen.prompts[1], "malformed") {
		t.Errorf("second prompt is not a repair prompt: %q", gen.prompts[1])
	}
}

func TestClassifyRepairFailureIsHardError(t *testing.T) {
	gen := &fakeGen{responses: []string{
		"I could not decide on a folder.",
		"Still no JSON, sorry.",
	}}
	c := New(gen, Options{ConfidenceThreshold: 0.6})

	_, err := c.Classify(context.Background(), testMessage(), descriptors("INBOX"))
	if !errors.Is(err, ErrUnparseable) {
		t.Fatalf("err = %v, want ErrUnparseable", err)
	}
	if len(gen.prompts) != 2 {
		t.Errorf("made %d model calls, want 2 (classify + one repair)", len(gen.prompts))
	}
}

func TestClassifyMatchesCaseAndPlural(t *testing.T) {
	cases := []struct {
		predicted string
		want      string
	}{
		{"WORK", "Work"},
		{"receipts", "Receipt"},
		{"receipt", "Receipt"},
	}
	for _, tc := range cases {
		gen := &fakeGen{responses: []string{
			`{"predicted_folder":"` + tc.predicted + `","confidence":0.9}`,
		}}
		c := New(gen, Options{ConfidenceThreshold: 0.6})

		result, err := c.Classify(context.Background(), testMessage(), descriptors("Work", "Receipt"))
		if err != nil {
			t.Fatalf("Classify(%q): %v", tc.predicted, err)
		}
		if result.Folder != tc.want {
			t.Errorf("Classify(%q) folder = %q, want %q", tc.predicted, result.Folder, tc.want)
		}
		if result.Confidence != 0.9 {
			t.Errorf("Classify(%q) confidence = %v, want 0.9 (no fallback)", tc.predicted, result.Confidence)
		}
	}
}

func TestClassifyGenerateError(t *testing.T) {
	genErr := errors.New("connection refused")
	gen := &fakeGen{err: genErr}
	c := New(gen, Options{})

	_, err := c.Classify(context.Background(), testMessage(), descriptors("INBOX"))
	if !errors.Is(err, genErr) {
		t.Fatalf("err = %v, want wrapped generate error", err)
	}
}

func TestResolveFallbackOrder(t *testing.T) {
	cases := []struct {
		name     string
		fallback string
		known    []string
		want     string
	}{
		{"configured wins", "Work", []string{"INBOX", "Work", "Misc"}, "Work"},
		{"configured unknown ignored", "Nope", []string{"INBOX", "Miscellaneous"}, "Miscellaneous"},
		{"misc convention", "", []string{"INBOX", "Work", "Misc"}, "Misc"},
		{"uncategorized convention", "", []string{"Alpha", "UncategorizedMail"}, "UncategorizedMail"},
		{"first folder last resort", "", []string{"Alpha", "Beta"}, "Alpha"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(&fakeGen{}, Options{FallbackFolder: tc.fallback})
			if got := c.resolveFallback(tc.known); got != tc.want {
				t.Errorf("resolveFallback(%v) = %q, want %q", tc.known, got, tc.want)
			}
		})
	}
}
