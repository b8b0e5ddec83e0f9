package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MemoryBackend is an in-process index for local runs and tests. Operations complete
// after a fixed number of status checks and answers are built from keyword matches in
// the indexed text. Indexed content is lost on restart; stores recorded in the catalog
// are re-created empty on their next upload, so earlier documents need a reindex.
type MemoryBackend struct {
	mu sync.Mutex

	seq    int
	stores map[string]map[string]*memoryFile // store → file name → file
	ops    map[string]*memoryOp

	completeAfter int
	stalled       bool
	failWith      string
	createErr     error
	queryErr      error
}

type memoryFile struct {
	name        string
	displayName string
	mimeType    string
	text        string
	indexed     bool
}

type memoryOp struct {
	store  string
	file   *memoryFile
	checks int
}

// NewMemoryBackend returns a backend whose jobs finish on the completeAfter-th status check.
func NewMemoryBackend(completeAfter int) *MemoryBackend {
	if completeAfter < 1 {
		completeAfter = 1
	}
	return &MemoryBackend{
		stores:        make(map[string]map[string]*memoryFile),
		ops:           make(map[string]*memoryOp),
		completeAfter: completeAfter,
	}
}

func (b *MemoryBackend) Name() string { return "memory" }

// Stall makes pending operations never report done.
func (b *MemoryBackend) Stall(stalled bool) {
	b.mu.Lock()
	b.stalled = stalled
	b.mu.Unlock()
}

// FailOperations makes operations finish with msg as error payload. Empty msg clears it.
func (b *MemoryBackend) FailOperations(msg string) {
	b.mu.Lock()
	b.failWith = msg
	b.mu.Unlock()
}

// FailCreateStore makes CreateStore return err until cleared with nil.
func (b *MemoryBackend) FailCreateStore(err error) {
	b.mu.Lock()
	b.createErr = err
	b.mu.Unlock()
}

// FailQueries makes Query return err until cleared with nil.
func (b *MemoryBackend) FailQueries(err error) {
	b.mu.Lock()
	b.queryErr = err
	b.mu.Unlock()
}

// StoreCount returns how many stores were created.
func (b *MemoryBackend) StoreCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stores)
}

func (b *MemoryBackend) CreateStore(_ context.Context, displayName string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return "", b.createErr
	}
	b.seq++
	name := fmt.Sprintf("fileSearchStores/memory-%d-%s", b.seq, uuid.NewString()[:8])
	b.stores[name] = make(map[string]*memoryFile)
	return name, nil
}

func (b *MemoryBackend) Submit(_ context.Context, storeName string, upload Upload) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	files, ok := b.stores[storeName]
	if !ok {
		// the store predates this process
		files = make(map[string]*memoryFile)
		b.stores[storeName] = files
	}
	b.seq++
	file := &memoryFile{
		name:        fmt.Sprintf("files/memory-%d-%s", b.seq, uuid.NewString()[:8]),
		displayName: upload.DisplayName,
		mimeType:    upload.MIMEType,
		text:        strings.ToValidUTF8(string(upload.Content), " "),
	}
	files[file.name] = file
	opName := fmt.Sprintf("%s/operations/import-%d", storeName, b.seq)
	b.ops[opName] = &memoryOp{store: storeName, file: file}
	return &Job{
		ID:       opName,
		FileName: file.name,
		FileURI:  "memory://" + file.name,
		MIMEType: upload.MIMEType,
	}, nil
}

func (b *MemoryBackend) Status(_ context.Context, job *Job) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	op, ok := b.ops[job.ID]
	if !ok {
		return Status{}, fmt.Errorf("operation %s not found", job.ID)
	}
	op.checks++
	if b.stalled || op.checks < b.completeAfter {
		return Status{}, nil
	}
	if b.failWith != "" {
		return Status{Done: true, Error: b.failWith}, nil
	}
	op.file.indexed = true
	return Status{Done: true}, nil
}

func (b *MemoryBackend) Query(_ context.Context, storeName, question string, refs []FileRef) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queryErr != nil {
		return "", b.queryErr
	}
	files, ok := b.stores[storeName]
	if !ok {
		return "", fmt.Errorf("store %s not found", storeName)
	}

	var candidates []*memoryFile
	if len(refs) > 0 {
		for _, ref := range refs {
			if f, ok := files[ref.Name]; ok && f.indexed {
				candidates = append(candidates, f)
			}
		}
	} else {
		for _, f := range files {
			if f.indexed {
				candidates = append(candidates, f)
			}
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].name < candidates[j].name })
	}
	if len(candidates) == 0 {
		return "", errors.New("no indexed documents in store")
	}

	terms := keywords(question)
	var parts []string
	for _, f := range candidates {
		if excerpt := bestExcerpt(f.text, terms); excerpt != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", f.displayName, excerpt))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("No passage in the %d indexed document(s) matches the question.", len(candidates)), nil
	}
	return strings.Join(parts, "\n"), nil
}

var stopWords = map[string]bool{
	"the": true, "and": true, "what": true, "does": true, "say": true, "about": true,
	"this": true, "that": true, "with": true, "for": true, "are": true, "was": true,
	"which": true, "who": true, "how": true, "when": true, "where": true, "is": true,
}

func keywords(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var terms []string
	for _, f := range fields {
		if stopWords[f] {
			continue
		}
		// single ASCII letters carry no signal; CJK runes do
		if utf8.RuneCountInString(f) < 2 && f[0] < utf8.RuneSelf {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// bestExcerpt returns the sentence of text with the most keyword hits.
func bestExcerpt(text string, terms []string) string {
	if len(terms) == 0 {
		return ""
	}
	sentences := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '\n' || r == '。' || r == '!' || r == '?'
	})
	best, bestHits := "", 0
	for _, s := range sentences {
		lower := strings.ToLower(s)
		hits := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = strings.TrimSpace(s), hits
		}
	}
	return best
}
