package api

import (
	"context"
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"casedocs/internal/auth"
	"casedocs/internal/blob"
	"casedocs/internal/catalog"
	"casedocs/internal/index"
	"casedocs/internal/models"
	"casedocs/internal/service/ingest"
	"casedocs/internal/service/query"
	"casedocs/internal/worker"
)

type Catalog interface {
	CreateMatter(ctx context.Context, title string) (*models.Matter, error)
	GetMatter(ctx context.Context, id string) (*models.Matter, error)
	ListDocuments(ctx context.Context, matterID string) ([]*models.Document, error)
	GetDocument(ctx context.Context, matterID, documentID string) (*models.Document, error)
}

type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*models.Document, error)
	Reindex(ctx context.Context, matterID, documentID string) (*models.Document, index.Outcome, error)
}

type Asker interface {
	Ask(ctx context.Context, matterID, question, userID string) (*query.Answer, error)
	History(ctx context.Context, matterID string, limit int) ([]*models.ChatTurn, error)
}

type StoreManager interface {
	EnsureStore(ctx context.Context, matterID string) (*models.IndexStore, error)
	LookupStore(ctx context.Context, matterID string) (*models.IndexStore, error)
}

// URLVerifier checks signed download links issued by the blob store.
type URLVerifier interface {
	Verify(bucket, objectPath, expires, sig string) error
}

// Options carries everything a Handler needs.
type Options struct {
	Catalog        Catalog
	Ingest         Ingester
	Query          Asker
	Stores         StoreManager
	Blobs          blob.Store
	Verifier       URLVerifier
	Auth           *auth.Service
	Dispatcher     *worker.Dispatcher
	MaxUploadBytes int64
	URLTTL         time.Duration
}

// Handler wires HTTP routes to the document pipeline.
type Handler struct {
	opts Options
}

// NewHandler constructs a Handler instance.
func NewHandler(opts Options) *Handler {
	if opts.Auth == nil {
		opts.Auth = auth.NewService(nil)
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 200 << 20
	}
	if opts.URLTTL <= 0 {
		opts.URLTTL = 15 * time.Minute
	}
	return &Handler{opts: opts}
}

const (
	matterContextKey   = "matter"
	defaultHistorySize = 50
	multipartOverhead  = 1 << 20
)

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)
	if h.opts.Verifier != nil {
		router.GET("/blobs/:bucket/*path", h.downloadBlob)
	}

	api := router.Group("/api")
	api.Use(h.opts.Auth.Middleware(), h.opts.Auth.CSRFMiddleware())
	api.POST("/matters", h.createMatter)

	matter := api.Group("/matters/:matter_id")
	matter.Use(h.requireMatter())
	matter.GET("", h.getMatter)
	matter.POST("/store", h.ensureStore)
	matter.POST("/documents", h.uploadDocument)
	matter.GET("/documents", h.listDocuments)
	matter.GET("/documents/:document_id", h.getDocument)
	matter.POST("/documents/:document_id/index", h.reindexDocument)
	matter.POST("/chat", h.ask)
	matter.GET("/chat", h.chatHistory)
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// requireMatter loads the path matter or answers 404.
func (h *Handler) requireMatter() gin.HandlerFunc {
	return func(c *gin.Context) {
		matterID := strings.TrimSpace(c.Param("matter_id"))
		m, err := h.opts.Catalog.GetMatter(c.Request.Context(), matterID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "not_found", "message": "matter not found"}})
				return
			}
			log.Printf("api: load matter %s: %v", matterID, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "internal", "message": "load matter failed"}})
			return
		}
		c.Set(matterContextKey, m)
		c.Next()
	}
}

func matterFromContext(c *gin.Context) *models.Matter {
	val, _ := c.Get(matterContextKey)
	m, _ := val.(*models.Matter)
	return m
}

func userID(c *gin.Context) string {
	id, ok := auth.UserIDFromContext(c)
	if !ok {
		return auth.AnonymousUser
	}
	return id
}

func (h *Handler) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.opts.Dispatcher != nil {
		body["workers"] = h.opts.Dispatcher.Stats()
	}
	c.JSON(http.StatusOK, body)
}

type createMatterRequest struct {
	Title string `json:"title"`
}

func (h *Handler) createMatter(c *gin.Context) {
	var req createMatterRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		writeError(c, http.StatusBadRequest, "invalid_input", "title is required")
		return
	}
	m, err := h.opts.Catalog.CreateMatter(c.Request.Context(), req.Title)
	if err != nil {
		log.Printf("api: create matter: %v", err)
		writeError(c, http.StatusInternalServerError, "internal", "create matter failed")
		return
	}
	// store creation is best effort; indexing retries it later
	var store *models.IndexStore
	if h.opts.Stores != nil {
		store, err = h.opts.Stores.EnsureStore(c.Request.Context(), m.ID)
		if err != nil {
			log.Printf("api: store for new matter %s deferred: %v", m.ID, err)
		}
	}
	c.JSON(http.StatusCreated, gin.H{"matter": m, "store": store})
}

func (h *Handler) getMatter(c *gin.Context) {
	m := matterFromContext(c)
	var store *models.IndexStore
	if h.opts.Stores != nil {
		s, err := h.opts.Stores.LookupStore(c.Request.Context(), m.ID)
		switch {
		case err == nil:
			store = s
		case !errors.Is(err, index.ErrStoreNotFound):
			log.Printf("api: lookup store for %s: %v", m.ID, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"matter": m, "store": store})
}

func (h *Handler) ensureStore(c *gin.Context) {
	m := matterFromContext(c)
	if h.opts.Stores == nil {
		writeError(c, http.StatusServiceUnavailable, "index_unavailable", "indexing is not configured")
		return
	}
	store, err := h.opts.Stores.EnsureStore(c.Request.Context(), m.ID)
	if err != nil {
		log.Printf("api: ensure store for %s: %v", m.ID, err)
		writeError(c, http.StatusBadGateway, "index_unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"store": store})
}

var ingestStatus = map[ingest.Code]int{
	ingest.CodeInvalidMIME:   http.StatusBadRequest,
	ingest.CodeTooLarge:      http.StatusRequestEntityTooLarge,
	ingest.CodeInvalidInput:  http.StatusBadRequest,
	ingest.CodeDuplicate:     http.StatusConflict,
	ingest.CodeStorageFailed: http.StatusInternalServerError,
	ingest.CodeCatalogFailed: http.StatusInternalServerError,
	ingest.CodeNotFound:      http.StatusNotFound,
}

func writeIngestError(c *gin.Context, err error) {
	var ierr *ingest.Error
	if !errors.As(err, &ierr) {
		log.Printf("api: ingest: %v", err)
		writeError(c, http.StatusInternalServerError, "internal", "upload failed")
		return
	}
	status, ok := ingestStatus[ierr.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		log.Printf("api: ingest: %v", err)
	}
	body := gin.H{"code": string(ierr.Code), "message": ierr.Message}
	if ierr.ExistingFile != "" {
		body["existing_file"] = ierr.ExistingFile
	}
	c.JSON(status, gin.H{"error": body})
}

func (h *Handler) uploadDocument(c *gin.Context) {
	m := matterFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes+multipartOverhead)
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, http.StatusRequestEntityTooLarge, string(ingest.CodeTooLarge), "file too large")
			return
		}
		writeError(c, http.StatusBadRequest, string(ingest.CodeInvalidInput), "file is required")
		return
	}
	if file.Size > h.opts.MaxUploadBytes {
		writeError(c, http.StatusRequestEntityTooLarge, string(ingest.CodeTooLarge), "file too large")
		return
	}
	f, err := file.Open()
	if err != nil {
		writeError(c, http.StatusBadRequest, string(ingest.CodeInvalidInput), "open file failed")
		return
	}
	content, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		writeError(c, http.StatusBadRequest, string(ingest.CodeInvalidInput), "read file failed")
		return
	}

	contentType := file.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = http.DetectContentType(content)
	}
	doc, err := h.opts.Ingest.Ingest(c.Request.Context(), ingest.Request{
		MatterID:   m.ID,
		FileName:   path.Base(strings.ReplaceAll(file.Filename, "\\", "/")),
		MIMEType:   contentType,
		Content:    content,
		UploaderID: userID(c),
	})
	if err != nil {
		writeIngestError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"document": doc})
}

func (h *Handler) listDocuments(c *gin.Context) {
	m := matterFromContext(c)
	docs, err := h.opts.Catalog.ListDocuments(c.Request.Context(), m.ID)
	if err != nil {
		log.Printf("api: list documents for %s: %v", m.ID, err)
		writeError(c, http.StatusInternalServerError, "internal", "list documents failed")
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (h *Handler) getDocument(c *gin.Context) {
	m := matterFromContext(c)
	doc, err := h.opts.Catalog.GetDocument(c.Request.Context(), m.ID, c.Param("document_id"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(c, http.StatusNotFound, "not_found", "document not found")
			return
		}
		log.Printf("api: get document: %v", err)
		writeError(c, http.StatusInternalServerError, "internal", "get document failed")
		return
	}
	body := gin.H{"document": doc}
	if h.opts.Blobs != nil {
		url, err := h.opts.Blobs.SignedURL(c.Request.Context(), doc.StorageBucket, doc.StoragePath, h.opts.URLTTL)
		if err != nil {
			log.Printf("api: sign url for %s: %v", doc.ID, err)
		} else {
			body["download_url"] = url
			body["expires_in"] = int(h.opts.URLTTL / time.Second)
		}
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) reindexDocument(c *gin.Context) {
	m := matterFromContext(c)
	doc, outcome, err := h.opts.Ingest.Reindex(c.Request.Context(), m.ID, c.Param("document_id"))
	if err != nil {
		var ierr *ingest.Error
		switch {
		case errors.As(err, &ierr):
			writeIngestError(c, err)
		case errors.Is(err, ingest.ErrIndexInProgress):
			writeError(c, http.StatusConflict, "index_in_progress", err.Error())
		default:
			log.Printf("api: reindex %s: %v", c.Param("document_id"), err)
			writeError(c, http.StatusBadGateway, "index_failed", err.Error())
		}
		return
	}
	switch outcome.State {
	case index.StateSucceeded:
		c.JSON(http.StatusOK, gin.H{"document": doc, "state": outcome.State, "outcome": outcome})
	case index.StateTimedOut:
		c.JSON(http.StatusAccepted, gin.H{"document": doc, "state": outcome.State, "outcome": outcome})
	default:
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    gin.H{"code": "index_failed", "message": outcome.Message},
			"document": doc,
			"state":    outcome.State,
		})
	}
}

type askRequest struct {
	Message string `json:"message"`
}

func (h *Handler) ask(c *gin.Context) {
	m := matterFromContext(c)
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}
	answer, err := h.opts.Query.Ask(c.Request.Context(), m.ID, req.Message, userID(c))
	if err != nil {
		var qerr *index.QueryError
		switch {
		case errors.Is(err, query.ErrEmptyQuestion):
			writeError(c, http.StatusBadRequest, "invalid_input", err.Error())
		case errors.Is(err, query.ErrNotReady):
			writeError(c, http.StatusConflict, "not_ready", "no indexed documents yet; upload files or wait for indexing")
		case errors.As(err, &qerr):
			log.Printf("api: query for %s: %v", m.ID, err)
			writeError(c, http.StatusBadGateway, "query_failed", qerr.Err.Error())
		default:
			log.Printf("api: ask for %s: %v", m.ID, err)
			writeError(c, http.StatusInternalServerError, "internal", "query failed")
		}
		return
	}
	c.JSON(http.StatusOK, answer)
}

func (h *Handler) chatHistory(c *gin.Context) {
	m := matterFromContext(c)
	limit := defaultHistorySize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "invalid_input", "invalid limit")
			return
		}
		limit = n
	}
	turns, err := h.opts.Query.History(c.Request.Context(), m.ID, limit)
	if err != nil {
		log.Printf("api: chat history for %s: %v", m.ID, err)
		writeError(c, http.StatusInternalServerError, "internal", "load chat history failed")
		return
	}
	if turns == nil {
		turns = []*models.ChatTurn{}
	}
	c.JSON(http.StatusOK, gin.H{"turns": turns})
}

// downloadBlob serves objects behind links produced by SignedURL.
func (h *Handler) downloadBlob(c *gin.Context) {
	bucket := c.Param("bucket")
	objectPath := strings.TrimPrefix(c.Param("path"), "/")
	if err := h.opts.Verifier.Verify(bucket, objectPath, c.Query("expires"), c.Query("sig")); err != nil {
		writeError(c, http.StatusForbidden, "forbidden", err.Error())
		return
	}
	data, err := h.opts.Blobs.Get(c.Request.Context(), bucket, objectPath)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeError(c, http.StatusNotFound, "not_found", "object not found")
			return
		}
		log.Printf("api: download %s/%s: %v", bucket, objectPath, err)
		writeError(c, http.StatusInternalServerError, "internal", "download failed")
		return
	}
	contentType := mime.TypeByExtension(path.Ext(objectPath))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	c.Data(http.StatusOK, contentType, data)
}
