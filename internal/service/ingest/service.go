// Package ingest accepts uploaded files for a matter: it validates, deduplicates,
// persists and catalogs them, then schedules best-effort indexing.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"casedocs/internal/blob"
	"casedocs/internal/catalog"
	"casedocs/internal/fingerprint"
	"casedocs/internal/index"
	"casedocs/internal/models"
	"casedocs/internal/redis"
	"casedocs/internal/worker"
)

// Catalog is the subset of the document catalog ingestion depends on.
type Catalog interface {
	GetMatter(ctx context.Context, id string) (*models.Matter, error)
	FindByFingerprint(ctx context.Context, matterID, sha256 string) (*models.Document, error)
	InsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, matterID, documentID string) (*models.Document, error)
	SetIndexRef(ctx context.Context, documentID, fileName, fileURI string, indexedAt time.Time) error
}

// Indexer is the index store capability used to index stored documents.
type Indexer interface {
	EnsureStore(ctx context.Context, matterID string) (*models.IndexStore, error)
	SubmitDocument(ctx context.Context, store *models.IndexStore, upload index.Upload) (*index.Job, error)
	AwaitCompletion(ctx context.Context, job *index.Job, maxWait, pollInterval time.Duration) (index.Outcome, error)
}

// Scheduler runs indexing jobs in the background.
type Scheduler interface {
	Submit(job worker.Job) error
}

// Locker guards a document against concurrent indexing runs across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*redis.Lock, error)
}

type Options struct {
	Bucket         string
	MaxUploadBytes int64
	MaxWait        time.Duration
	PollInterval   time.Duration
}

// Request is one upload.
type Request struct {
	MatterID   string
	FileName   string
	MIMEType   string
	Content    []byte
	UploaderID string
}

type Service struct {
	catalog   Catalog
	blobs     blob.Store
	indexer   Indexer
	scheduler Scheduler
	locker    Locker
	opts      Options
	now       func() time.Time
}

type Option func(*Service)

// WithScheduler runs indexing on s instead of skipping it.
func WithScheduler(s Scheduler) Option {
	return func(svc *Service) { svc.scheduler = s }
}

func WithLocker(l Locker) Option {
	return func(svc *Service) { svc.locker = l }
}

func NewService(cat Catalog, blobs blob.Store, indexer Indexer, opts Options, options ...Option) *Service {
	if opts.Bucket == "" {
		opts.Bucket = "matter-files"
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 200 << 20
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 60 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	s := &Service{
		catalog: cat,
		blobs:   blobs,
		indexer: indexer,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// StoragePath is the immutable blob location of a document.
func StoragePath(matterID, documentID, fileName string) string {
	return path.Join("matters", matterID, documentID, SanitizeFileName(fileName))
}

// Ingest stores and catalogs one upload. A returned document is durable; its index
// reference may still be empty while indexing runs or after it was deferred.
func (s *Service) Ingest(ctx context.Context, req Request) (*models.Document, error) {
	req.MatterID = strings.TrimSpace(req.MatterID)
	req.FileName = strings.TrimSpace(req.FileName)
	req.MIMEType = NormalizeMIME(req.MIMEType)

	if req.MatterID == "" {
		return nil, invalid(CodeInvalidInput, "matter id is required")
	}
	if req.FileName == "" {
		return nil, invalid(CodeInvalidInput, "file name is required")
	}
	if !AllowedMIMETypes[req.MIMEType] {
		return nil, invalid(CodeInvalidMIME, "unsupported file type %q", req.MIMEType)
	}
	if len(req.Content) == 0 {
		return nil, invalid(CodeInvalidInput, "file is empty")
	}
	if int64(len(req.Content)) > s.opts.MaxUploadBytes {
		return nil, invalid(CodeTooLarge, "file exceeds the %d byte limit", s.opts.MaxUploadBytes)
	}
	if _, err := s.catalog.GetMatter(ctx, req.MatterID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, notFound(ErrMatterNotFound, "matter not found")
		}
		return nil, catalogFailure(err)
	}

	sum := fingerprint.Sum(req.Content)
	existing, err := s.catalog.FindByFingerprint(ctx, req.MatterID, sum)
	switch {
	case err == nil:
		return nil, duplicate(existing.FileName)
	case !errors.Is(err, catalog.ErrNotFound):
		return nil, catalogFailure(err)
	}

	docID := uuid.NewString()
	objectPath := StoragePath(req.MatterID, docID, req.FileName)
	if err := s.blobs.Put(ctx, s.opts.Bucket, objectPath, req.Content, req.MIMEType); err != nil {
		return nil, storageFailure(err)
	}

	uploader := req.UploaderID
	if uploader == "" {
		uploader = "anonymous"
	}
	doc := &models.Document{
		ID:            docID,
		MatterID:      req.MatterID,
		FileName:      req.FileName,
		MimeType:      req.MIMEType,
		Size:          int64(len(req.Content)),
		SHA256:        sum,
		DocType:       Classify(req.FileName, req.MIMEType),
		StorageBucket: s.opts.Bucket,
		StoragePath:   objectPath,
		UploadedBy:    uploader,
		CreatedAt:     s.now(),
	}
	if err := s.catalog.InsertDocument(ctx, doc); err != nil {
		s.discardBlob(objectPath)
		if errors.Is(err, catalog.ErrDuplicate) {
			name := req.FileName
			if winner, findErr := s.catalog.FindByFingerprint(ctx, req.MatterID, sum); findErr == nil {
				name = winner.FileName
			}
			return nil, duplicate(name)
		}
		return nil, catalogFailure(err)
	}
	log.Printf("ingest: stored document %s (%s, %s) in matter %s", doc.ID, doc.FileName, doc.DocType, doc.MatterID)

	s.scheduleIndexing(doc, req.Content)
	return doc, nil
}

// discardBlob is the compensation for a failed catalog insert.
func (s *Service) discardBlob(objectPath string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.blobs.Delete(ctx, s.opts.Bucket, objectPath); err != nil {
		log.Printf("ingest: orphan blob %s/%s left after catalog failure: %v", s.opts.Bucket, objectPath, err)
	}
}

func (s *Service) scheduleIndexing(doc *models.Document, content []byte) {
	if s.scheduler == nil || s.indexer == nil {
		log.Printf("ingest: indexing deferred for document %s: no scheduler", doc.ID)
		return
	}
	snapshot := *doc
	err := s.scheduler.Submit(worker.Job{
		Key:     doc.MatterID,
		Name:    "index-document",
		Timeout: s.opts.MaxWait + 30*time.Second,
		Run: func(ctx context.Context) error {
			_, outcome, err := s.indexDocument(ctx, &snapshot, content)
			if err != nil {
				return fmt.Errorf("indexing deferred for document %s: %w", snapshot.ID, err)
			}
			if outcome.State != index.StateSucceeded {
				log.Printf("ingest: indexing deferred for document %s: %s %s", snapshot.ID, outcome.State, outcome.Message)
			}
			return nil
		},
	})
	if err != nil {
		log.Printf("ingest: indexing deferred for document %s: %v", doc.ID, err)
	}
}

// Reindex re-runs indexing for a stored document synchronously. Repeating it refreshes
// the index reference.
func (s *Service) Reindex(ctx context.Context, matterID, documentID string) (*models.Document, index.Outcome, error) {
	if s.indexer == nil {
		return nil, index.Outcome{}, errors.New("indexing is not configured")
	}
	doc, err := s.catalog.GetDocument(ctx, matterID, documentID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, index.Outcome{}, notFound(ErrDocumentNotFound, "document not found")
		}
		return nil, index.Outcome{}, catalogFailure(err)
	}
	content, err := s.blobs.Get(ctx, doc.StorageBucket, doc.StoragePath)
	if err != nil {
		return doc, index.Outcome{}, storageFailure(err)
	}
	return s.indexDocument(ctx, doc, content)
}

func indexLockKey(documentID string) string {
	return "index:doc:" + documentID
}

// indexDocument submits doc and waits for the backend. Failed and timed out runs are
// outcomes, not errors.
func (s *Service) indexDocument(ctx context.Context, doc *models.Document, content []byte) (*models.Document, index.Outcome, error) {
	if s.locker != nil {
		lock, err := s.locker.Acquire(ctx, indexLockKey(doc.ID), s.opts.MaxWait+time.Minute)
		switch {
		case errors.Is(err, redis.ErrLockHeld):
			return doc, index.Outcome{State: index.StatePending}, ErrIndexInProgress
		case err != nil:
			log.Printf("ingest: index lock for %s unavailable, continuing unlocked: %v", doc.ID, err)
		default:
			defer func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := lock.Release(releaseCtx); err != nil {
					log.Printf("ingest: release index lock for %s: %v", doc.ID, err)
				}
			}()
		}
	}

	store, err := s.indexer.EnsureStore(ctx, doc.MatterID)
	if err != nil {
		return doc, index.Outcome{}, err
	}
	job, err := s.indexer.SubmitDocument(ctx, store, index.Upload{
		Content:     content,
		DisplayName: doc.FileName,
		MIMEType:    doc.MimeType,
	})
	if err != nil {
		return doc, index.Outcome{}, err
	}
	outcome, err := s.indexer.AwaitCompletion(ctx, job, s.opts.MaxWait, s.opts.PollInterval)
	if err != nil {
		return doc, outcome, err
	}
	if outcome.State != index.StateSucceeded {
		return doc, outcome, nil
	}

	indexedAt := s.now()
	if err := s.catalog.SetIndexRef(ctx, doc.ID, outcome.FileName, outcome.FileURI, indexedAt); err != nil {
		return doc, outcome, fmt.Errorf("record index ref: %w", err)
	}
	updated := *doc
	updated.IndexFileName = &outcome.FileName
	updated.IndexFileURI = &outcome.FileURI
	updated.IndexedAt = &indexedAt
	log.Printf("ingest: document %s indexed as %s after %d check(s)", doc.ID, outcome.FileName, outcome.Attempts)
	return &updated, outcome, nil
}
