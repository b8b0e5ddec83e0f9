package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"casedocs/internal/models"
)

const documentColumns = `id, matter_id, file_name, mime_type, file_size, sha256, doc_type,
	storage_bucket, storage_path, index_file_name, index_file_uri, indexed_at, uploaded_by, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		d         models.Document
		fileName  sql.NullString
		fileURI   sql.NullString
		indexedAt sql.NullTime
	)
	if err := row.Scan(&d.ID, &d.MatterID, &d.FileName, &d.MimeType, &d.Size, &d.SHA256, &d.DocType,
		&d.StorageBucket, &d.StoragePath, &fileName, &fileURI, &indexedAt, &d.UploadedBy, &d.CreatedAt); err != nil {
		return nil, err
	}
	if fileName.Valid {
		d.IndexFileName = &fileName.String
	}
	if fileURI.Valid {
		d.IndexFileURI = &fileURI.String
	}
	if indexedAt.Valid {
		t := indexedAt.Time
		d.IndexedAt = &t
	}
	return &d, nil
}

// FindByFingerprint returns the document in matterID whose content hash is sha256, or ErrNotFound.
func (c *Catalog) FindByFingerprint(ctx context.Context, matterID, sha256 string) (*models.Document, error) {
	doc, err := scanDocument(c.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE matter_id = ? AND sha256 = ?`,
		matterID, sha256,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find document by fingerprint: %w", err)
	}
	return doc, nil
}

// InsertDocument persists a new document row. A (matter_id, sha256) collision yields ErrDuplicate.
func (c *Catalog) InsertDocument(ctx context.Context, doc *models.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.MatterID, doc.FileName, doc.MimeType, doc.Size, doc.SHA256, doc.DocType,
		doc.StorageBucket, doc.StoragePath, doc.IndexFileName, doc.IndexFileURI, doc.IndexedAt,
		doc.UploadedBy, doc.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert document: %w", errors.Join(ErrDuplicate, err))
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument returns a document scoped to its matter.
func (c *Catalog) GetDocument(ctx context.Context, matterID, documentID string) (*models.Document, error) {
	doc, err := scanDocument(c.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ? AND matter_id = ?`,
		documentID, matterID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns a matter's documents, newest first.
func (c *Catalog) ListDocuments(ctx context.Context, matterID string) ([]*models.Document, error) {
	return c.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE matter_id = ? ORDER BY created_at DESC, id`,
		matterID,
	)
}

// ListIndexed returns the documents of a matter that carry an index reference.
func (c *Catalog) ListIndexed(ctx context.Context, matterID string) ([]*models.Document, error) {
	return c.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents
		WHERE matter_id = ? AND index_file_name IS NOT NULL AND index_file_name <> ''
		ORDER BY created_at, id`,
		matterID,
	)
}

func (c *Catalog) queryDocuments(ctx context.Context, query string, args ...any) ([]*models.Document, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SetIndexRef records the external index reference. Calling it again overwrites the reference.
func (c *Catalog) SetIndexRef(ctx context.Context, documentID, fileName, fileURI string, indexedAt time.Time) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE documents SET index_file_name = ?, index_file_uri = ?, indexed_at = ? WHERE id = ?`,
		fileName, fileURI, indexedAt.UTC(), documentID,
	)
	if err != nil {
		return fmt.Errorf("set index ref: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set index ref: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LocationExists reports whether any document row points at bucket/path.
func (c *Catalog) LocationExists(ctx context.Context, bucket, objectPath string) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx,
		`SELECT 1 FROM documents WHERE storage_bucket = ? AND storage_path = ?`,
		bucket, objectPath,
	).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lookup document location: %w", err)
	}
	return true, nil
}
