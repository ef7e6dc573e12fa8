package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/valyc0/document-service/internal/file"
	"github.com/valyc0/document-service/internal/publish"
	"github.com/valyc0/document-service/pkg/kafka"
)

// fakeSink records events published by the indexing requester.
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

type fixture struct {
	store    *file.MemStore
	indexing *fakeSink
	handlers *Handlers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := file.NewMemStore()
	extraction := &fakeSink{}
	indexing := &fakeSink{}
	publisher := publish.New(store, extraction, indexing, "extraction.requests", "indexing.requests", nil)
	return &fixture{
		store:    store,
		indexing: indexing,
		handlers: New(store, publisher, nil, nil),
	}
}

// seedExtracting inserts a record already marked extraction-in-progress, the
// state a file is in while the extraction worker runs.
func (f *fixture) seedExtracting(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	rec := &file.FileRecord{
		ID:               id,
		Checksum:         "sum-" + id,
		OriginalFilename: id + ".pdf",
		BlobPathOriginal: file.OriginalBlobPath(id, id+".pdf"),
		UploadStage:      file.StageUploaded,
		ExtractionStage:  file.StatusPending,
		IndexingStage:    file.StatusPending,
	}
	if _, _, err := f.store.Insert(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := f.store.BeginExtraction(ctx, id); err != nil {
		t.Fatal(err)
	}
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func extractionEvent(t *testing.T, id string, status file.CompletionStatus, errMsg string) []byte {
	t.Helper()
	return encode(t, file.ExtractionCompleted{
		FileID:       id,
		Status:       status,
		ChunkCount:   3,
		ErrorMessage: errMsg,
		Timestamp:    time.Now().UTC(),
	})
}

func indexingEvent(t *testing.T, id string, status file.CompletionStatus, errMsg string) []byte {
	t.Helper()
	return encode(t, file.IndexingCompleted{
		FileID:        id,
		Status:        status,
		IndexedChunks: 3,
		ErrorMessage:  errMsg,
		Timestamp:     time.Now().UTC(),
	})
}

func TestExtractionCompletedAdvancesAndRequestsIndexing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedExtracting(t, "a")
	handler := f.handlers.ExtractionCompleted("extraction.completed")

	if err := handler(ctx, []byte("a"), extractionEvent(t, "a", file.CompletionSuccess, "")); err != nil {
		t.Fatalf("handler: %v", err)
	}

	rec, err := f.store.GetByID(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	// extraction landed and the indexing request already flipped the record
	if rec.ExtractionStage != file.StatusCompleted {
		t.Fatalf("extraction stage = %s", rec.ExtractionStage)
	}
	if rec.UploadStage != file.StageIndexing {
		t.Fatalf("upload stage = %s, want %s", rec.UploadStage, file.StageIndexing)
	}
	if rec.BlobPathExtracted != file.ExtractedBlobPath("a") {
		t.Fatalf("extracted path = %q", rec.BlobPathExtracted)
	}
	if f.indexing.count() != 1 {
		t.Fatalf("%d indexing requests emitted, want 1", f.indexing.count())
	}
}

func TestExtractionCompletedDuplicateEmitsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedExtracting(t, "a")
	handler := f.handlers.ExtractionCompleted("extraction.completed")
	payload := extractionEvent(t, "a", file.CompletionSuccess, "")

	for i := 0; i < 3; i++ {
		if err := handler(ctx, []byte("a"), payload); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	// exactly one applied transition and one follow-up request
	if f.indexing.count() != 1 {
		t.Fatalf("%d indexing requests after duplicate deliveries, want 1", f.indexing.count())
	}
	rec, _ := f.store.GetByID(ctx, "a")
	if rec.UploadStage != file.StageIndexing {
		t.Fatalf("upload stage = %s", rec.UploadStage)
	}
}

func TestConcurrentDuplicateDeliveries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedExtracting(t, "a")
	handler := f.handlers.ExtractionCompleted("extraction.completed")
	payload := extractionEvent(t, "a", file.CompletionSuccess, "")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := handler(ctx, []byte("a"), payload); err != nil {
				t.Errorf("concurrent delivery: %v", err)
			}
		}()
	}
	wg.Wait()

	if f.indexing.count() != 1 {
		t.Fatalf("%d indexing requests after racing deliveries, want 1", f.indexing.count())
	}
}

func TestExtractionFailedMarksRecordFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedExtracting(t, "a")
	handler := f.handlers.ExtractionCompleted("extraction.completed")

	if err := handler(ctx, []byte("a"), extractionEvent(t, "a", file.CompletionFailed, "corrupt pdf")); err != nil {
		t.Fatalf("handler: %v", err)
	}

	rec, _ := f.store.GetByID(ctx, "a")
	if rec.UploadStage != file.StageFailed {
		t.Fatalf("upload stage = %s, want %s", rec.UploadStage, file.StageFailed)
	}
	if rec.ExtractionError != "corrupt pdf" {
		t.Fatalf("extraction error = %q", rec.ExtractionError)
	}
	if f.indexing.count() != 0 {
		t.Fatal("indexing requested for a failed extraction")
	}

	// a late success for the same file is now a duplicate, not a revival
	if err := handler(ctx, []byte("a"), extractionEvent(t, "a", file.CompletionSuccess, "")); err != nil {
		t.Fatalf("late success delivery: %v", err)
	}
	rec, _ = f.store.GetByID(ctx, "a")
	if rec.UploadStage != file.StageFailed {
		t.Fatalf("terminal FAILED record was revived to %s", rec.UploadStage)
	}
}

func TestExtractionCompletedUnknownFileIsDropped(t *testing.T) {
	f := newFixture(t)
	handler := f.handlers.ExtractionCompleted("extraction.completed")
	if err := handler(context.Background(), []byte("ghost"), extractionEvent(t, "ghost", file.CompletionSuccess, "")); err != nil {
		t.Fatalf("unknown-file event should be dropped, got %v", err)
	}
}

func TestExtractionCompletedMalformedPayloadIsDropped(t *testing.T) {
	f := newFixture(t)
	handler := f.handlers.ExtractionCompleted("extraction.completed")
	if err := handler(context.Background(), []byte("a"), []byte("{not json")); err != nil {
		t.Fatalf("malformed payload should be dropped, got %v", err)
	}
}

func TestExtractionCompletedCommitsWhenIndexingRequestFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.indexing.fail = true
	f.seedExtracting(t, "a")
	handler := f.handlers.ExtractionCompleted("extraction.completed")

	// the transition is committed, so the message must be committed too;
	// redelivery could not get past the guard anyway
	if err := handler(ctx, []byte("a"), extractionEvent(t, "a", file.CompletionSuccess, "")); err != nil {
		t.Fatalf("handler returned error despite committed transition: %v", err)
	}

	rec, _ := f.store.GetByID(ctx, "a")
	if rec.ExtractionStage != file.StatusCompleted {
		t.Fatalf("extraction stage = %s", rec.ExtractionStage)
	}
	// the record is stalled INDEXING and visible to the recovery sweep
	stalled, err := f.store.ListStalled(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stalled) != 1 || stalled[0].ID != "a" {
		t.Fatalf("stalled = %+v, want record a", stalled)
	}
}

func TestIndexingCompletedFinishesPipeline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedExtracting(t, "a")

	extractionHandler := f.handlers.ExtractionCompleted("extraction.completed")
	indexingHandler := f.handlers.IndexingCompleted("indexing.completed")

	if err := extractionHandler(ctx, []byte("a"), extractionEvent(t, "a", file.CompletionSuccess, "")); err != nil {
		t.Fatal(err)
	}
	if err := indexingHandler(ctx, []byte("a"), indexingEvent(t, "a", file.CompletionSuccess, "")); err != nil {
		t.Fatal(err)
	}

	rec, _ := f.store.GetByID(ctx, "a")
	if rec.UploadStage != file.StageIndexed {
		t.Fatalf("upload stage = %s, want %s", rec.UploadStage, file.StageIndexed)
	}
	if rec.IndexingStage != file.StatusCompleted {
		t.Fatalf("indexing stage = %s", rec.IndexingStage)
	}

	// duplicates of either completion event leave the terminal record alone
	if err := extractionHandler(ctx, []byte("a"), extractionEvent(t, "a", file.CompletionSuccess, "")); err != nil {
		t.Fatal(err)
	}
	if err := indexingHandler(ctx, []byte("a"), indexingEvent(t, "a", file.CompletionSuccess, "")); err != nil {
		t.Fatal(err)
	}
	rec, _ = f.store.GetByID(ctx, "a")
	if rec.UploadStage != file.StageIndexed {
		t.Fatalf("terminal record changed to %s", rec.UploadStage)
	}
	if f.indexing.count() != 1 {
		t.Fatalf("%d indexing requests total, want 1", f.indexing.count())
	}
}

func TestIndexingFailedMarksRecordFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedExtracting(t, "a")

	extractionHandler := f.handlers.ExtractionCompleted("extraction.completed")
	indexingHandler := f.handlers.IndexingCompleted("indexing.completed")

	if err := extractionHandler(ctx, []byte("a"), extractionEvent(t, "a", file.CompletionSuccess, "")); err != nil {
		t.Fatal(err)
	}
	if err := indexingHandler(ctx, []byte("a"), indexingEvent(t, "a", file.CompletionFailed, "es down")); err != nil {
		t.Fatal(err)
	}

	rec, _ := f.store.GetByID(ctx, "a")
	if rec.UploadStage != file.StageFailed {
		t.Fatalf("upload stage = %s, want %s", rec.UploadStage, file.StageFailed)
	}
	if rec.IndexingError != "es down" {
		t.Fatalf("indexing error = %q", rec.IndexingError)
	}
	// extraction outcome is preserved for diagnosis
	if rec.ExtractionStage != file.StatusCompleted {
		t.Fatalf("extraction stage = %s", rec.ExtractionStage)
	}
}

func TestIndexingCompletedOutOfOrderBeforeExtraction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedExtracting(t, "a")
	indexingHandler := f.handlers.IndexingCompleted("indexing.completed")

	// an indexing completion cannot land while extraction is unfinished;
	// the guard treats it as a conflict and the message is dropped
	if err := indexingHandler(ctx, []byte("a"), indexingEvent(t, "a", file.CompletionSuccess, "")); err != nil {
		t.Fatalf("out-of-order event should be dropped, got %v", err)
	}
	rec, _ := f.store.GetByID(ctx, "a")
	if rec.UploadStage != file.StageExtracting {
		t.Fatalf("record advanced out of order to %s", rec.UploadStage)
	}
}
