package models

import "time"

// DocType is the heuristic classification of an uploaded file.
type DocType string

const (
	DocTypeContract       DocType = "contract"
	DocTypeEvidence       DocType = "evidence"
	DocTypeClaim          DocType = "claim"
	DocTypeCorrespondence DocType = "correspondence"
	DocTypeImage          DocType = "image"
	DocTypeOther          DocType = "other"
)

// Document is one uploaded file version inside a matter.
type Document struct {
	ID            string     `json:"id"`
	MatterID      string     `json:"matter_id"`
	FileName      string     `json:"file_name"`
	MimeType      string     `json:"mime_type"`
	Size          int64      `json:"size"`
	SHA256        string     `json:"sha256"`
	DocType       DocType    `json:"doc_type"`
	StorageBucket string     `json:"storage_bucket"`
	StoragePath   string     `json:"storage_path"`
	IndexFileName *string    `json:"index_file_name"`
	IndexFileURI  *string    `json:"index_file_uri"`
	IndexedAt     *time.Time `json:"indexed_at"`
	UploadedBy    string     `json:"uploaded_by"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Indexed reports whether the document has a populated index reference.
func (d *Document) Indexed() bool {
	return d != nil && d.IndexFileName != nil && *d.IndexFileName != ""
}
