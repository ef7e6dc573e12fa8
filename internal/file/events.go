package file

import "time"

// CompletionStatus is the outcome reported by an external worker.
type CompletionStatus string

const (
	CompletionSuccess CompletionStatus = "SUCCESS"
	CompletionFailed  CompletionStatus = "FAILED"
)

// ExtractionRequested asks the extraction worker to process a file. The
// filename travels with the event so the worker can pick a parser without a
// metadata round-trip.
type ExtractionRequested struct {
	FileID           string    `json:"fileId"`
	OriginalFilename string    `json:"originalFilename"`
	Timestamp        time.Time `json:"timestamp"`
}

// ExtractionCompleted reports the extraction outcome for a file.
type ExtractionCompleted struct {
	FileID       string           `json:"fileId"`
	Status       CompletionStatus `json:"status"`
	ChunkCount   int              `json:"chunkCount"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// IndexingRequested asks the indexing worker to index a file's extracted
// text.
type IndexingRequested struct {
	FileID    string    `json:"fileId"`
	Timestamp time.Time `json:"timestamp"`
}

// IndexingCompleted reports the indexing outcome for a file.
type IndexingCompleted struct {
	FileID        string           `json:"fileId"`
	Status        CompletionStatus `json:"status"`
	IndexedChunks int              `json:"indexedChunks"`
	ErrorMessage  string           `json:"errorMessage,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// ExtractedDocument is the blob-store contract for extraction output, stored
// at files/{fileId}/extracted-text.json by the extraction worker.
type ExtractedDocument struct {
	FileID      string            `json:"fileId"`
	FullText    string            `json:"fullText"`
	Chunks      []string          `json:"chunks"`
	Metadata    map[string]string `json:"metadata"`
	ExtractedAt time.Time         `json:"extractedAt"`
}
