package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"casedocs/internal/auth"
	"casedocs/internal/blob"
	"casedocs/internal/catalog"
	"casedocs/internal/config"
	"casedocs/internal/index"
	"casedocs/internal/service/ingest"
	"casedocs/internal/service/query"
	"casedocs/internal/storage"
	"casedocs/internal/worker"
)

const contractText = "MASTER SERVICES AGREEMENT. The contract term is five years from the effective date. Either party may terminate with ninety days written notice."

type testServer struct {
	router  *gin.Engine
	backend *index.MemoryBackend
	disp    *worker.Dispatcher
	cat     *catalog.Catalog
}

func newTestServer(t *testing.T, tokens map[string]string, maxUpload int64) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	files, err := blob.NewFileStore(t.TempDir(), []byte("test-signing-key"), "")
	if err != nil {
		t.Fatalf("file store: %v", err)
	}

	cat := catalog.New(db)
	backend := index.NewMemoryBackend(1)
	manager := index.NewManager(backend, cat)
	disp := worker.NewDispatcher(worker.Config{MinWorkers: 1, MaxWorkers: 2, QueueSize: 16})
	t.Cleanup(func() { disp.Close(context.Background()) })

	ingestSvc := ingest.NewService(cat, files, manager, ingest.Options{
		Bucket:         "matter-files",
		MaxUploadBytes: maxUpload,
		MaxWait:        100 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	}, ingest.WithScheduler(disp))

	handler := NewHandler(Options{
		Catalog:        cat,
		Ingest:         ingestSvc,
		Query:          query.NewService(cat, manager),
		Stores:         manager,
		Blobs:          files,
		Verifier:       files,
		Auth:           auth.NewService(tokens),
		Dispatcher:     disp,
		MaxUploadBytes: maxUpload,
	})
	router := gin.New()
	handler.RegisterRoutes(router)
	return &testServer{router: router, backend: backend, disp: disp, cat: cat}
}

func TestHandlersEndToEndFlow(t *testing.T) {
	srv := newTestServer(t, nil, 0)
	srv.backend.Stall(true)

	// Create a matter; its store is provisioned eagerly.
	createResp := doJSONRequest(t, srv.router, http.MethodPost, "/api/matters", map[string]string{"title": "Acme v. Widget"}, nil)
	assertStatus(t, createResp, http.StatusCreated)
	var created struct {
		Matter struct {
			ID string `json:"id"`
		} `json:"matter"`
		Store *struct {
			StoreName string `json:"store_name"`
		} `json:"store"`
	}
	decodeJSON(t, createResp.Body.Bytes(), &created)
	matterID := created.Matter.ID
	if matterID == "" || created.Store == nil || created.Store.StoreName == "" {
		t.Fatalf("unexpected create body: %s", createResp.Body.String())
	}
	base := "/api/matters/" + matterID

	// Upload a contract.
	upResp := doUpload(t, srv.router, base+"/documents", "contract_v1.pdf", "application/pdf", []byte(contractText), nil)
	assertStatus(t, upResp, http.StatusCreated)
	var contract struct {
		Document struct {
			ID          string `json:"id"`
			DocType     string `json:"doc_type"`
			SHA256      string `json:"sha256"`
			StoragePath string `json:"storage_path"`
		} `json:"document"`
	}
	decodeJSON(t, upResp.Body.Bytes(), &contract)
	if contract.Document.DocType != "contract" {
		t.Fatalf("expected contract doc type, got %q", contract.Document.DocType)
	}
	if len(contract.Document.SHA256) != 64 {
		t.Fatalf("expected hex sha256, got %q", contract.Document.SHA256)
	}
	if !strings.HasPrefix(contract.Document.StoragePath, "matters/"+matterID+"/"+contract.Document.ID+"/") {
		t.Fatalf("unexpected storage path %q", contract.Document.StoragePath)
	}

	// Same bytes under another name are a duplicate.
	dupResp := doUpload(t, srv.router, base+"/documents", "contract_final.pdf", "application/pdf", []byte(contractText), nil)
	assertStatus(t, dupResp, http.StatusConflict)
	var dup errorBody
	decodeJSON(t, dupResp.Body.Bytes(), &dup)
	if dup.Error.Code != "duplicate" || dup.Error.ExistingFile != "contract_v1.pdf" {
		t.Fatalf("unexpected duplicate body: %s", dupResp.Body.String())
	}

	// Images classify by MIME type.
	photo := append([]byte{0xff, 0xd8, 0xff, 0xe0}, []byte("jfif evidence photo")...)
	imgResp := doUpload(t, srv.router, base+"/documents", "evidence_photo.jpg", "image/jpeg", photo, nil)
	assertStatus(t, imgResp, http.StatusCreated)
	var image struct {
		Document struct {
			DocType string `json:"doc_type"`
		} `json:"document"`
	}
	decodeJSON(t, imgResp.Body.Bytes(), &image)
	if image.Document.DocType != "image" {
		t.Fatalf("expected image doc type, got %q", image.Document.DocType)
	}

	// Background indexing times out while the backend is stalled.
	srv.disp.Wait()

	notReady := doJSONRequest(t, srv.router, http.MethodPost, base+"/chat", map[string]string{"message": "How long is the contract term?"}, nil)
	assertStatus(t, notReady, http.StatusConflict)
	var nr errorBody
	decodeJSON(t, notReady.Body.Bytes(), &nr)
	if nr.Error.Code != "not_ready" {
		t.Fatalf("expected not_ready, got %s", notReady.Body.String())
	}

	// Re-run indexing once the backend recovers.
	srv.backend.Stall(false)
	idxResp := doJSONRequest(t, srv.router, http.MethodPost, base+"/documents/"+contract.Document.ID+"/index", nil, nil)
	assertStatus(t, idxResp, http.StatusOK)
	var indexed struct {
		State    string `json:"state"`
		Document struct {
			IndexFileName *string `json:"index_file_name"`
		} `json:"document"`
	}
	decodeJSON(t, idxResp.Body.Bytes(), &indexed)
	if indexed.State != "succeeded" || indexed.Document.IndexFileName == nil {
		t.Fatalf("unexpected index body: %s", idxResp.Body.String())
	}

	askResp := doJSONRequest(t, srv.router, http.MethodPost, base+"/chat", map[string]string{"message": "How long is the contract term?"}, nil)
	assertStatus(t, askResp, http.StatusOK)
	var answer struct {
		Answer string `json:"answer"`
	}
	decodeJSON(t, askResp.Body.Bytes(), &answer)
	if !strings.Contains(answer.Answer, "five years") {
		t.Fatalf("answer does not cite the contract: %q", answer.Answer)
	}

	histResp := doJSONRequest(t, srv.router, http.MethodGet, base+"/chat", nil, nil)
	assertStatus(t, histResp, http.StatusOK)
	var history struct {
		Turns []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"turns"`
	}
	decodeJSON(t, histResp.Body.Bytes(), &history)
	if len(history.Turns) != 2 || history.Turns[0].Role != "user" || history.Turns[1].Role != "assistant" {
		t.Fatalf("unexpected history: %s", histResp.Body.String())
	}

	listResp := doJSONRequest(t, srv.router, http.MethodGet, base+"/documents", nil, nil)
	assertStatus(t, listResp, http.StatusOK)
	var listed struct {
		Documents []json.RawMessage `json:"documents"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listed)
	if len(listed.Documents) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(listed.Documents))
	}
}

func TestUploadValidation(t *testing.T) {
	srv := newTestServer(t, nil, 64)
	matterID := createMatter(t, srv.router, nil)
	path := "/api/matters/" + matterID + "/documents"

	cases := []struct {
		name     string
		fileName string
		mimeType string
		content  []byte
		status   int
		code     string
	}{
		{"unsupported mime", "payload.exe", "application/x-msdownload", []byte("MZ"), http.StatusBadRequest, "invalid_mime"},
		{"too large", "big.pdf", "application/pdf", bytes.Repeat([]byte("a"), 65), http.StatusRequestEntityTooLarge, "too_large"},
		{"empty", "empty.pdf", "application/pdf", nil, http.StatusBadRequest, "invalid_input"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doUpload(t, srv.router, path, tc.fileName, tc.mimeType, tc.content, nil)
			assertStatus(t, resp, tc.status)
			var body errorBody
			decodeJSON(t, resp.Body.Bytes(), &body)
			if body.Error.Code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, body.Body())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestUnknownMatterAndDocument(t *testing.T) {
	srv := newTestServer(t, nil, 0)

	resp := doJSONRequest(t, srv.router, http.MethodGet, "/api/matters/missing/documents", nil, nil)
	assertStatus(t, resp, http.StatusNotFound)

	matterID := createMatter(t, srv.router, nil)
	resp = doJSONRequest(t, srv.router, http.MethodGet, "/api/matters/"+matterID+"/documents/nope", nil, nil)
	assertStatus(t, resp, http.StatusNotFound)

	resp = doJSONRequest(t, srv.router, http.MethodPost, "/api/matters/"+matterID+"/documents/nope/index", nil, nil)
	assertStatus(t, resp, http.StatusNotFound)

	resp = doJSONRequest(t, srv.router, http.MethodPost, "/api/matters/"+matterID+"/chat", map[string]string{"message": "   "}, nil)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestReindexReportsTimeoutAndFailure(t *testing.T) {
	srv := newTestServer(t, nil, 0)
	matterID := createMatter(t, srv.router, nil)
	base := "/api/matters/" + matterID

	srv.backend.Stall(true)
	up := doUpload(t, srv.router, base+"/documents", "meeting_notes.pdf", "application/pdf", []byte("meeting notes"), nil)
	assertStatus(t, up, http.StatusCreated)
	docID := documentID(t, up)
	srv.disp.Wait()

	resp := doJSONRequest(t, srv.router, http.MethodPost, base+"/documents/"+docID+"/index", nil, nil)
	assertStatus(t, resp, http.StatusAccepted)

	srv.backend.Stall(false)
	srv.backend.FailOperations("unsupported document")
	resp = doJSONRequest(t, srv.router, http.MethodPost, base+"/documents/"+docID+"/index", nil, nil)
	assertStatus(t, resp, http.StatusBadGateway)
	var body errorBody
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Error.Code != "index_failed" || !strings.Contains(body.Error.Message, "unsupported document") {
		t.Fatalf("unexpected failure body: %s", resp.Body.String())
	}
}

func TestQueryFailureIsBadGateway(t *testing.T) {
	srv := newTestServer(t, nil, 0)
	matterID := createMatter(t, srv.router, nil)
	base := "/api/matters/" + matterID

	up := doUpload(t, srv.router, base+"/documents", "claim_form.pdf", "application/pdf", []byte("Claim for damages of 500 dollars."), nil)
	assertStatus(t, up, http.StatusCreated)
	srv.disp.Wait()

	srv.backend.FailQueries(fmt.Errorf("quota exhausted"))
	resp := doJSONRequest(t, srv.router, http.MethodPost, base+"/chat", map[string]string{"message": "What damages are claimed?"}, nil)
	assertStatus(t, resp, http.StatusBadGateway)
	var body errorBody
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Error.Code != "query_failed" {
		t.Fatalf("expected query_failed, got %s", resp.Body.String())
	}
}

func TestSignedDownload(t *testing.T) {
	srv := newTestServer(t, nil, 0)
	matterID := createMatter(t, srv.router, nil)
	base := "/api/matters/" + matterID

	up := doUpload(t, srv.router, base+"/documents", "letter.pdf", "application/pdf", []byte("Dear counsel"), nil)
	assertStatus(t, up, http.StatusCreated)
	docID := documentID(t, up)

	resp := doJSONRequest(t, srv.router, http.MethodGet, base+"/documents/"+docID, nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		DownloadURL string `json:"download_url"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.DownloadURL == "" {
		t.Fatalf("expected download url: %s", resp.Body.String())
	}

	dl := doJSONRequest(t, srv.router, http.MethodGet, body.DownloadURL, nil, nil)
	assertStatus(t, dl, http.StatusOK)
	if dl.Body.String() != "Dear counsel" {
		t.Fatalf("unexpected download body %q", dl.Body.String())
	}

	u, err := url.Parse(body.DownloadURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()
	q.Set("sig", strings.Repeat("0", 64))
	u.RawQuery = q.Encode()
	tampered := doJSONRequest(t, srv.router, http.MethodGet, u.String(), nil, nil)
	assertStatus(t, tampered, http.StatusForbidden)
}

func TestAuthRequiredWhenTokensConfigured(t *testing.T) {
	srv := newTestServer(t, map[string]string{"secret": "lawyer-1"}, 0)

	resp := doJSONRequest(t, srv.router, http.MethodPost, "/api/matters", map[string]string{"title": "x"}, nil)
	assertStatus(t, resp, http.StatusUnauthorized)

	headers := map[string]string{"Authorization": "Bearer secret"}
	matterID := createMatter(t, srv.router, headers)
	up := doUpload(t, srv.router, "/api/matters/"+matterID+"/documents", "memo.pdf", "application/pdf", []byte("memo"), headers)
	assertStatus(t, up, http.StatusCreated)
	var body struct {
		Document struct {
			UploadedBy string `json:"uploaded_by"`
		} `json:"document"`
	}
	decodeJSON(t, up.Body.Bytes(), &body)
	if body.Document.UploadedBy != "lawyer-1" {
		t.Fatalf("expected uploader from token, got %q", body.Document.UploadedBy)
	}

	health := doJSONRequest(t, srv.router, http.MethodGet, "/healthz", nil, nil)
	assertStatus(t, health, http.StatusOK)
}

type errorBody struct {
	Error struct {
		Code         string `json:"code"`
		Message      string `json:"message"`
		ExistingFile string `json:"existing_file"`
	} `json:"error"`
}

func (b errorBody) Body() string {
	return fmt.Sprintf("%s: %s", b.Error.Code, b.Error.Message)
}

func createMatter(t *testing.T, router *gin.Engine, headers map[string]string) string {
	t.Helper()
	resp := doJSONRequest(t, router, http.MethodPost, "/api/matters", map[string]string{"title": "Test matter"}, headers)
	assertStatus(t, resp, http.StatusCreated)
	var body struct {
		Matter struct {
			ID string `json:"id"`
		} `json:"matter"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	return body.Matter.ID
}

func documentID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Document struct {
			ID string `json:"id"`
		} `json:"document"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Document.ID == "" {
		t.Fatalf("missing document id: %s", rec.Body.String())
	}
	return body.Document.ID
}

func doUpload(t *testing.T, router *gin.Engine, path, fileName, mimeType string, content []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v (body=%s)", err, string(data))
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}
