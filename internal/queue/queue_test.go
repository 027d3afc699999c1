package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jbroll/mailmap/internal/model"
)

type fakeResults struct {
	mu           sync.Mutex
	seen         map[string]bool
	saved        map[string]*model.ClassificationResult
	unclassified map[string]bool
	movedIDs     map[string]bool
	order        []string
	folders      []model.FolderDescriptor
	foldersErr   error
	hasResultErr error
}

func newFakeResults(folders ...string) *fakeResults {
	f := &fakeResults{
		seen:         make(map[string]bool),
		saved:        make(map[string]*model.ClassificationResult),
		unclassified: make(map[string]bool),
		movedIDs:     make(map[string]bool),
	}
	for _, name := range folders {
		f.folders = append(f.folders, model.FolderDescriptor{Name: name})
	}
	return f
}

func (f *fakeResults) HasResult(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasResultErr != nil {
		return false, f.hasResultErr
	}
	return f.seen[id], nil
}

func (f *fakeResults) SaveResult(_ context.Context, msg *model.Message, result *model.ClassificationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[msg.ID] = true
	f.saved[msg.ID] = result
	f.order = append(f.order, msg.ID)
	return nil
}

func (f *fakeResults) SaveUnclassified(_ context.Context, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unclassified[msg.ID] = true
	f.order = append(f.order, msg.ID)
	return nil
}

func (f *fakeResults) MarkMoved(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.movedIDs[id] = true
	return nil
}

func (f *fakeResults) Folders(_ context.Context) ([]model.FolderDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.foldersErr != nil {
		return nil, f.foldersErr
	}
	return f.folders, nil
}

type fakeClassifier struct {
	mu     sync.Mutex
	calls  int
	failOn map[string]bool
	folder string
	conf   float64
}

func (f *fakeClassifier) Classify(_ context.Context, msg *model.Message, folders []model.FolderDescriptor) (*model.ClassificationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failOn[msg.ID] {
		return nil, errors.New("model unavailable")
	}
	folder := f.folder
	if folder == "" && len(folders) > 0 {
		folder = folders[0].Name
	}
	return &model.ClassificationResult{Folder: folder, Confidence: f.conf}, nil
}

type moveRecorder struct {
	mu    sync.Mutex
	moves []string
	err   error
}

func (m *moveRecorder) move(_ context.Context, msg *model.Message, dest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.moves = append(m.moves, msg.ID+"->"+dest)
	return nil
}

func message(n int) *model.Message {
	return &model.Message{
		ID:      fmt.Sprintf("<msg-%d@example.com>", n),
		Folder:  "INBOX",
		UID:     uint32(n),
		Subject: fmt.Sprintf("Message %d", n),
	}
}

func TestQueueDrainsBacklogDespiteFailures(t *testing.T) {
	results := newFakeResults("Work")
	classifier := &fakeClassifier{
		folder: "Work",
		conf:   0.9,
		failOn: map[string]bool{message(3).ID: true},
	}
	q := New(results, classifier, Options{Size: 8})

	for i := 1; i <= 5; i++ {
		if err := q.Enqueue(context.Background(), message(i)); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(results.order) != 5 {
		t.Fatalf("persisted %d messages, want all 5: %v", len(results.order), results.order)
	}
	for i := 1; i <= 5; i++ {
		if results.order[i-1] != message(i).ID {
			t.Errorf("order[%d] = %q, want %q", i-1, results.order[i-1], message(i).ID)
		}
	}
	if !results.unclassified[message(3).ID] {
		t.Error("failed message should be recorded as unclassified")
	}
	for _, n := range []int{1, 2, 4, 5} {
		r, ok := results.saved[message(n).ID]
		if !ok {
			t.Errorf("message %d has no saved result", n)
			continue
		}
		if r.Folder != "Work" {
			t.Errorf("message %d classified into %q, want Work", n, r.Folder)
		}
	}
}

func TestQueueSkipsAlreadyProcessed(t *testing.T) {
	results := newFakeResults("Work")
	results.seen["<msg-1@example.com>"] = true
	classifier := &fakeClassifier{folder: "Work", conf: 0.9}
	q := New(results, classifier, Options{})

	q.process(context.Background(), message(1))

	if classifier.calls != 0 {
		t.Errorf("classifier called %d times for a seen message, want 0", classifier.calls)
	}
	if len(results.order) != 0 {
		t.Errorf("seen message was persisted again: %v", results.order)
	}
}

func TestQueueLookupFailureSkipsMessage(t *testing.T) {
	results := newFakeResults("Work")
	results.hasResultErr = errors.New("database locked")
	classifier := &fakeClassifier{}
	q := New(results, classifier, Options{})

	q.process(context.Background(), message(1))

	if classifier.calls != 0 {
		t.Errorf("classifier called %d times, want 0", classifier.calls)
	}
	if results.unclassified[message(1).ID] {
		t.Error("lookup failure should not record an unclassified row")
	}
}

func TestQueueFoldersFailureSavesUnclassified(t *testing.T) {
	results := newFakeResults()
	results.foldersErr = errors.New("database locked")
	q := New(results, &fakeClassifier{}, Options{})

	q.process(context.Background(), message(1))

	if !results.unclassified[message(1).ID] {
		t.Error("folder load failure should record the message as unclassified")
	}
}

func TestQueueEnqueueAfterShutdown(t *testing.T) {
	q := New(newFakeResults(), &fakeClassifier{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if err := q.Enqueue(context.Background(), message(1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("Enqueue after shutdown = %v, want ErrClosed", err)
	}
}

func TestQueueEnqueueHonorsContext(t *testing.T) {
	q := New(newFakeResults(), &fakeClassifier{}, Options{Size: 1})

	if err := q.Enqueue(context.Background(), message(1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, message(2))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Enqueue on full queue = %v, want DeadlineExceeded", err)
	}
}

func TestQueueMoveGating(t *testing.T) {
	cases := []struct {
		name      string
		folder    string
		conf      float64
		withMove  bool
		wantMoved bool
	}{
		{"confident different folder", "Work", 0.9, true, true},
		{"fallback stays put", "Work", 0, true, false},
		{"same folder", "INBOX", 0.9, true, false},
		{"moving disabled", "Work", 0.9, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			results := newFakeResults("INBOX", "Work")
			rec := &moveRecorder{}
			opts := Options{}
			if tc.withMove {
				opts.Move = rec.move
			}
			q := New(results, &fakeClassifier{folder: tc.folder, conf: tc.conf}, opts)

			q.process(context.Background(), message(1))

			if _, ok := results.saved[message(1).ID]; !ok {
				t.Fatal("result was not saved")
			}
			moved := len(rec.moves) == 1
			if moved != tc.wantMoved {
				t.Errorf("moved = %v, want %v (moves: %v)", moved, tc.wantMoved, rec.moves)
			}
			if results.movedIDs[message(1).ID] != tc.wantMoved {
				t.Errorf("MarkMoved = %v, want %v", results.movedIDs[message(1).ID], tc.wantMoved)
			}
		})
	}
}

func TestQueueMoveFailureKeepsResult(t *testing.T) {
	results := newFakeResults("INBOX", "Work")
	rec := &moveRecorder{err: errors.New("mailbox gone")}
	q := New(results, &fakeClassifier{folder: "Work", conf: 0.9}, Options{Move: rec.move})

	q.process(context.Background(), message(1))

	if _, ok := results.saved[message(1).ID]; !ok {
		t.Fatal("result should be saved even when the move fails")
	}
	if results.movedIDs[message(1).ID] {
		t.Error("failed move must not be recorded as moved")
	}
}
