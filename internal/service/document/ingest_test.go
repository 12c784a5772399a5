package document

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentdoc "github.com/feichai0017/document-ingestor/internal/agent/document"
	"github.com/feichai0017/document-ingestor/internal/agent/document/pdf"
	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/internal/testutil"
	"github.com/feichai0017/document-ingestor/internal/text"
	"github.com/feichai0017/document-ingestor/internal/utils/validator"
	"github.com/feichai0017/document-ingestor/internal/vectorstore"
	"github.com/feichai0017/document-ingestor/pkg/fetch"
	"github.com/feichai0017/document-ingestor/pkg/logger"
)

// fakeEmbedder returns vectors whose first component is the position in the call.
type fakeEmbedder struct {
	err   error
	calls atomic.Int32
}

func (e *fakeEmbedder) Name() string { return "fake" }

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, models.EmbeddingDimension)
		out[i][0] = float32(i)
	}
	return out, nil
}

type storedRow struct {
	index int
	text  string
	pages models.PageRange
}

type memStore struct {
	mu          sync.Mutex
	tenants     map[string]bool
	rows        map[string][]storedRow
	batches     []vectorstore.Batch
	ensured     int
	deletes     int
	failOnBatch int
	countDelta  int
}

func newMemStore() *memStore {
	return &memStore{
		tenants:     map[string]bool{"default": true, "field_job": true},
		rows:        make(map[string][]storedRow),
		failOnBatch: -1,
	}
}

func (s *memStore) HasTenant(tenant string) bool { return s.tenants[tenant] }

func (s *memStore) EnsureSchema(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured++
	return nil
}

func (s *memStore) InsertBatch(_ context.Context, _ string, b vectorstore.Batch) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) == s.failOnBatch {
		return 0, fmt.Errorf("%w: connection reset", models.ErrInsertFailed)
	}
	s.batches = append(s.batches, b)
	for i, c := range b.Chunks {
		s.rows[b.TaskID] = append(s.rows[b.TaskID], storedRow{index: b.BaseIndex + i, text: c, pages: b.Pages})
	}
	return len(b.Chunks), nil
}

func (s *memStore) CountByTask(_ context.Context, _ string, taskID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[taskID]) + s.countDelta, nil
}

func (s *memStore) DeleteByTask(_ context.Context, _ string, taskID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	n := len(s.rows[taskID])
	delete(s.rows, taskID)
	return int64(n), nil
}

type failingExtractor struct{}

func (failingExtractor) Name() string { return "failing" }

func (failingExtractor) Extract(context.Context, []byte) (string, error) {
	return "", fmt.Errorf("%w: provider unavailable", models.ErrExtractionFailed)
}

// partsExtractor counts part files present in the workspace while extracting.
type partsExtractor struct {
	agentdoc.Extractor
	dir   string
	parts int
}

func (e *partsExtractor) Extract(ctx context.Context, doc []byte) (string, error) {
	matches, _ := filepath.Glob(filepath.Join(e.dir, "procdoc_*", "part_*.pdf"))
	e.parts = max(e.parts, len(matches))
	return e.Extractor.Extract(ctx, doc)
}

type stageRecorder struct {
	mu     sync.Mutex
	stages []models.Stage
}

func (r *stageRecorder) ReportStage(_ context.Context, _ string, s models.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, s)
}

type fixture struct {
	server    *httptest.Server
	hits      atomic.Int32
	workspace string
	store     *memStore
	embedder  *fakeEmbedder
	log       *logger.TestLogger
}

func newFixture(t *testing.T, docs map[string][]byte) *fixture {
	t.Helper()
	f := &fixture{
		workspace: t.TempDir(),
		store:     newMemStore(),
		embedder:  &fakeEmbedder{},
		log:       logger.NewTestLogger(),
	}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		doc, ok := docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(doc)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) ingestor(extractor agentdoc.Extractor, policy string) *Ingestor {
	return NewIngestor(
		fetch.NewClient(fetch.Options{MaxBytes: 10 << 20}, f.log),
		validator.NewDocumentValidator(f.log, nil),
		pdf.NewSplitter(10),
		extractor,
		f.embedder,
		f.store,
		f.log,
		IngestorConfig{FailurePolicy: policy, WorkspaceDir: f.workspace},
	)
}

func (f *fixture) task(path string) models.IngestionTask {
	return models.IngestionTask{ProcessTaskID: "task-1", FileURL: f.server.URL + path}
}

func (f *fixture) assertWorkspaceRemoved(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.workspace)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// threePages splits exactly size characters of sentences over three pages.
func threePages(size int) (string, []string) {
	var b strings.Builder
	for i := 0; b.Len() < size+100; i++ {
		fmt.Fprintf(&b, "Step %d of the field manual describes a separate procedure. ", i)
	}
	full := strings.TrimSpace(b.String()[:size])

	words := strings.Fields(full)
	third := len(words) / 3
	pages := []string{
		strings.Join(words[:third], " "),
		strings.Join(words[third:2*third], " "),
		strings.Join(words[2*third:], " "),
	}
	return full, pages
}

func TestIngestor_ThreePageDocument(t *testing.T) {
	full, pages := threePages(5000)
	f := newFixture(t, map[string][]byte{"/manual.pdf": testutil.BuildPDF(pages...)})
	stages := &stageRecorder{}

	summary, err := f.ingestor(pdf.NewTextExtractor(f.log, 0), PolicyAbort).
		Ingest(context.Background(), f.task("/manual.pdf"), stages)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.ChunksCreated)
	assert.Equal(t, 3, summary.EmbeddingsCreated)
	assert.Equal(t, 3, summary.StoredRecords)
	assert.Equal(t, 3, summary.Pages)
	assert.Equal(t, 1, summary.Ranges)
	assert.True(t, summary.Verified)

	assert.Equal(t, models.SummaryTextLimit, utf8.RuneCountInString(summary.Text))
	assert.True(t, strings.HasPrefix(full, text.Normalize(summary.Text)))

	rows := f.store.rows["task-1"]
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, i, row.index)
		assert.Equal(t, models.PageRange{Start: 0, End: 3}, row.pages)
	}
	assert.True(t, strings.HasPrefix(full, rows[0].text))
	assert.True(t, strings.HasSuffix(full, rows[2].text))

	assert.Equal(t, []models.Stage{
		models.StageFetching,
		models.StageSplitting,
		models.StageExtracting,
		models.StageChunking,
		models.StageEmbedding,
		models.StageSchemaEnsuring,
		models.StageInserting,
		models.StageVerifying,
		models.StageDone,
	}, stages.stages)

	f.assertWorkspaceRemoved(t)
}

func TestIngestor_LargeDocumentSplitIntoRanges(t *testing.T) {
	pages := make([]string, 25)
	for i := range pages {
		pages[i] = fmt.Sprintf("PAGE-%02d ", i) + testutil.Sentences(i*40, 40)
	}
	f := newFixture(t, map[string][]byte{"/big.pdf": testutil.BuildPDF(pages...)})
	extractor := &partsExtractor{Extractor: pdf.NewTextExtractor(f.log, 0), dir: f.workspace}

	summary, err := f.ingestor(extractor, PolicyAbort).Ingest(context.Background(), f.task("/big.pdf"), nil)
	require.NoError(t, err)

	assert.Equal(t, 25, summary.Pages)
	assert.Equal(t, 3, summary.Ranges)
	assert.Equal(t, 3, extractor.parts)
	assert.True(t, summary.Verified)

	require.Len(t, f.store.batches, 3)
	wantRanges := []models.PageRange{{Start: 0, End: 10}, {Start: 10, End: 20}, {Start: 20, End: 25}}
	base := 0
	for i, b := range f.store.batches {
		assert.Equal(t, wantRanges[i], b.Pages)
		assert.Equal(t, base, b.BaseIndex)
		base += len(b.Chunks)
	}
	assert.Equal(t, base, summary.ChunksCreated)

	// chunk indices are dense across ranges
	for i, row := range f.store.rows["task-1"] {
		assert.Equal(t, i, row.index)
	}

	// each range only holds text from its own pages
	for _, row := range f.store.rows["task-1"] {
		for p := 0; p < 25; p++ {
			if strings.Contains(row.text, fmt.Sprintf("PAGE-%02d", p)) {
				assert.True(t, p >= row.pages.Start && p < row.pages.End, "page %d in range %s", p, row.pages)
			}
		}
	}

	f.assertWorkspaceRemoved(t)
}

func TestIngestor_ReplacesEarlierAttempt(t *testing.T) {
	f := newFixture(t, map[string][]byte{"/doc.pdf": testutil.BuildPDF(testutil.Sentences(0, 10))})
	f.store.rows["task-1"] = []storedRow{{index: 0, text: "stale"}, {index: 1, text: "stale"}}

	summary, err := f.ingestor(pdf.NewTextExtractor(f.log, 0), PolicyAbort).
		Ingest(context.Background(), f.task("/doc.pdf"), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.deletes)
	assert.Equal(t, 1, summary.StoredRecords)
	assert.True(t, summary.Verified)
	assert.True(t, f.log.HasEntry("INFO", "Replaced records of earlier attempt"))
}

func TestIngestor_EmptyDocument(t *testing.T) {
	f := newFixture(t, map[string][]byte{"/blank.pdf": testutil.BuildPDF("", "")})
	f.store.rows["task-1"] = []storedRow{{index: 0, text: "stale"}}

	summary, err := f.ingestor(pdf.NewTextExtractor(f.log, 0), PolicyAbort).
		Ingest(context.Background(), f.task("/blank.pdf"), nil)
	require.NoError(t, err)

	assert.Zero(t, summary.ChunksCreated)
	assert.Zero(t, summary.StoredRecords)
	assert.True(t, summary.Verified)
	assert.Zero(t, f.embedder.calls.Load())
	assert.Equal(t, 1, f.store.deletes)
}

func TestIngestor_ExtractionFailurePolicy(t *testing.T) {
	t.Run("Abort", func(t *testing.T) {
		f := newFixture(t, map[string][]byte{"/doc.pdf": testutil.BuildPDF("hello")})
		stages := &stageRecorder{}

		_, err := f.ingestor(failingExtractor{}, PolicyAbort).Ingest(context.Background(), f.task("/doc.pdf"), stages)
		assert.ErrorIs(t, err, models.ErrExtractionFailed)
		assert.Empty(t, f.store.batches)
		assert.Equal(t, models.StageFailed, stages.stages[len(stages.stages)-1])
		f.assertWorkspaceRemoved(t)
	})

	t.Run("Placeholder", func(t *testing.T) {
		f := newFixture(t, map[string][]byte{"/doc.pdf": testutil.BuildPDF("hello")})

		summary, err := f.ingestor(failingExtractor{}, PolicyPlaceholder).Ingest(context.Background(), f.task("/doc.pdf"), nil)
		require.NoError(t, err)

		assert.Equal(t, agentdoc.PlaceholderText, summary.Text)
		require.Len(t, f.store.rows["task-1"], 1)
		assert.Equal(t, agentdoc.PlaceholderText, f.store.rows["task-1"][0].text)
		assert.True(t, f.log.HasEntry("WARN", "Text extraction failed, storing placeholder"))
	})
}

func TestIngestor_Failures(t *testing.T) {
	doc := testutil.BuildPDF(testutil.Sentences(0, 5))

	t.Run("Download", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.ingestor(pdf.NewTextExtractor(f.log, 0), PolicyAbort).
			Ingest(context.Background(), f.task("/missing.pdf"), nil)
		assert.ErrorIs(t, err, models.ErrDownload)
		f.assertWorkspaceRemoved(t)
	})

	t.Run("Not A PDF", func(t *testing.T) {
		f := newFixture(t, map[string][]byte{"/page.pdf": []byte("<html><body>login</body></html>")})
		_, err := f.ingestor(pdf.NewTextExtractor(f.log, 0), PolicyAbort).
			Ingest(context.Background(), f.task("/page.pdf"), nil)
		assert.ErrorIs(t, err, models.ErrInvalidDocument)
		f.assertWorkspaceRemoved(t)
	})

	t.Run("Unknown Tenant", func(t *testing.T) {
		f := newFixture(t, map[string][]byte{"/doc.pdf": doc})
		task := f.task("/doc.pdf")
		task.DBName = "nowhere"

		_, err := f.ingestor(pdf.NewTextExtractor(f.log, 0), PolicyAbort).Ingest(context.Background(), task, nil)
		assert.ErrorIs(t, err, models.ErrUnknownTenant)
		assert.Zero(t, f.hits.Load())
	})

	t.Run("Missing Fields", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.ingestor(pdf.NewTextExtractor(f.log, 0), PolicyAbort).
			Ingest(context.Background(), models.IngestionTask{FileURL: "http://x"}, nil)
		assert.ErrorIs(t, err, models.ErrInvalidOptions)
	})

	t.Run("Embedding", func(t *testing.T) {
		f := newFixture(t, map[string][]byte{"/doc.pdf": doc})
		f.embedder.err = fmt.Errorf("%w: quota exceeded", models.ErrEmbeddingFailed)

		_, err := f.ingestor(pdf.NewTextExtractor(f.log, 0), PolicyAbort).
			Ingest(context.Background(), f.task("/doc.pdf"), nil)
		assert.ErrorIs(t, err, models.ErrEmbeddingFailed)
		assert.Empty(t, f.store.batches)
		assert.Zero(t, f.store.ensured)
	})

	t.Run("Insert", func(t *testing.T) {
		f := newFixture(t, map[string][]byte{"/doc.pdf": doc})
		f.store.failOnBatch = 0

		_, err := f.ingestor(pdf.NewTextExtractor(f.log, 0), PolicyAbort).
			Ingest(context.Background(), f.task("/doc.pdf"), nil)
		assert.ErrorIs(t, err, models.ErrInsertFailed)
		assert.True(t, f.log.HasEntry("ERROR", "Ingestion failed"))
		f.assertWorkspaceRemoved(t)
	})

	t.Run("Cancelled", func(t *testing.T) {
		f := newFixture(t, map[string][]byte{"/doc.pdf": doc})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := f.ingestor(pdf.NewTextExtractor(f.log, 0), PolicyPlaceholder).Ingest(ctx, f.task("/doc.pdf"), nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, models.ErrDownload))
		f.assertWorkspaceRemoved(t)
	})
}

func TestIngestor_VerificationMismatch(t *testing.T) {
	f := newFixture(t, map[string][]byte{"/doc.pdf": testutil.BuildPDF(testutil.Sentences(0, 5))})
	f.store.countDelta = -1

	summary, err := f.ingestor(pdf.NewTextExtractor(f.log, 0), PolicyAbort).
		Ingest(context.Background(), f.task("/doc.pdf"), nil)
	require.NoError(t, err)

	assert.False(t, summary.Verified)
	assert.Equal(t, summary.ChunksCreated-1, summary.StoredRecords)
	assert.True(t, f.log.HasEntry("WARN", "Stored record count does not match chunk count"))
}

func TestWorkspacePattern(t *testing.T) {
	assert.Equal(t, "procdoc_abc-123_*", workspacePattern("abc-123"))
	assert.Equal(t, "procdoc_a_b_c_*", workspacePattern("a/b*c"))
}
