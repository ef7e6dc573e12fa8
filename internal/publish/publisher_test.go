package publish

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/valyc0/document-service/internal/file"
	apperrors "github.com/valyc0/document-service/pkg/errors"
	"github.com/valyc0/document-service/pkg/kafka"
)

// fakeSink records published events and can be told to fail.
type fakeSink struct {
	mu     sync.Mutex
	events []kafka.Event
	fail   bool
}

func (f *fakeSink) Publish(ctx context.Context, event kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker unreachable")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newTestPublisher(store file.Store) (*Publisher, *fakeSink, *fakeSink) {
	extraction := &fakeSink{}
	indexing := &fakeSink{}
	p := New(store, extraction, indexing, "extraction.requests", "indexing.requests", nil)
	return p, extraction, indexing
}

func seedUploaded(t *testing.T, store file.Store, id string) {
	t.Helper()
	rec := &file.FileRecord{
		ID:               id,
		Checksum:         "sum-" + id,
		OriginalFilename: id + ".pdf",
		BlobPathOriginal: file.OriginalBlobPath(id, id+".pdf"),
		UploadStage:      file.StageUploaded,
		ExtractionStage:  file.StatusPending,
		IndexingStage:    file.StatusPending,
	}
	if _, _, err := store.Insert(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
}

func TestRequestExtractionFlipsStageThenEmits(t *testing.T) {
	ctx := context.Background()
	store := file.NewMemStore()
	p, extraction, _ := newTestPublisher(store)
	seedUploaded(t, store, "a")

	if err := p.RequestExtraction(ctx, "a"); err != nil {
		t.Fatalf("RequestExtraction: %v", err)
	}

	rec, err := store.GetByID(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if rec.UploadStage != file.StageExtracting || rec.ExtractionStage != file.StatusInProgress {
		t.Fatalf("record not marked in progress: %s/%s", rec.UploadStage, rec.ExtractionStage)
	}
	if extraction.count() != 1 {
		t.Fatalf("%d events emitted, want 1", extraction.count())
	}
	ev := extraction.events[0]
	if ev.Key != "a" {
		t.Errorf("event key = %q, want file id", ev.Key)
	}
	req, ok := ev.Value.(file.ExtractionRequested)
	if !ok {
		t.Fatalf("event value has type %T", ev.Value)
	}
	if req.FileID != "a" || req.OriginalFilename != "a.pdf" {
		t.Errorf("event payload = %+v", req)
	}
}

func TestRequestExtractionDuplicateIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := file.NewMemStore()
	p, extraction, _ := newTestPublisher(store)
	seedUploaded(t, store, "a")

	if err := p.RequestExtraction(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := p.RequestExtraction(ctx, "a"); err != nil {
		t.Fatalf("duplicate request returned error: %v", err)
	}
	if extraction.count() != 1 {
		t.Fatalf("duplicate request emitted a second event (%d total)", extraction.count())
	}
}

func TestRequestExtractionUnknownFile(t *testing.T) {
	store := file.NewMemStore()
	p, _, _ := newTestPublisher(store)
	err := p.RequestExtraction(context.Background(), "ghost")
	if !errors.Is(err, apperrors.ErrFileNotFound) {
		t.Fatalf("err = %v, want ErrFileNotFound", err)
	}
}

func TestRequestExtractionPublishFailureLeavesRecordStalled(t *testing.T) {
	ctx := context.Background()
	store := file.NewMemStore()
	p, extraction, _ := newTestPublisher(store)
	extraction.fail = true
	seedUploaded(t, store, "a")

	if err := p.RequestExtraction(ctx, "a"); err == nil {
		t.Fatal("publish failure not reported")
	}

	// stage already flipped; the record is recoverable via the stalled query
	rec, err := store.GetByID(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ExtractionStage != file.StatusInProgress {
		t.Fatalf("stage = %s after failed emit", rec.ExtractionStage)
	}
	stalled, err := store.ListStalled(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stalled) != 1 || stalled[0].ID != "a" {
		t.Fatalf("stalled = %+v, want record a", stalled)
	}
}

func TestRequestIndexingRequiresCompletedExtraction(t *testing.T) {
	ctx := context.Background()
	store := file.NewMemStore()
	p, _, indexing := newTestPublisher(store)
	seedUploaded(t, store, "a")

	// extraction still pending: the guard rejects the flip and nothing is
	// emitted, without surfacing an error to the caller
	if err := p.RequestIndexing(ctx, "a"); err != nil {
		t.Fatalf("RequestIndexing before extraction: %v", err)
	}
	if indexing.count() != 0 {
		t.Fatalf("event emitted for unextracted file")
	}

	if err := store.BeginExtraction(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := store.CompleteExtraction(ctx, "a", file.ExtractedBlobPath("a")); err != nil {
		t.Fatal(err)
	}

	if err := p.RequestIndexing(ctx, "a"); err != nil {
		t.Fatalf("RequestIndexing: %v", err)
	}
	if indexing.count() != 1 {
		t.Fatalf("%d indexing events, want 1", indexing.count())
	}
	rec, _ := store.GetByID(ctx, "a")
	if rec.UploadStage != file.StageIndexing {
		t.Fatalf("stage = %s, want %s", rec.UploadStage, file.StageIndexing)
	}

	// and a repeat is a silent no-op
	if err := p.RequestIndexing(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if indexing.count() != 1 {
		t.Fatal("duplicate indexing request emitted a second event")
	}
}
