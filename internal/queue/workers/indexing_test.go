package workers

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayoubkhl/ragrelay/internal/models"
	"github.com/ayoubkhl/ragrelay/internal/queue"
	"github.com/ayoubkhl/ragrelay/internal/usage"
	"github.com/ayoubkhl/ragrelay/internal/vectorstore"
)

type fakeDocuments struct {
	doc          *models.KnowledgeDocument
	content      string
	quotaErr     error
	processing   int
	quotaChecks  int
	failedReason string
}

func (f *fakeDocuments) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.KnowledgeDocument, error) {
	return f.doc, nil
}

func (f *fakeDocuments) GetContent(ctx context.Context, tenantID, id uuid.UUID) (string, error) {
	return f.content, nil
}

func (f *fakeDocuments) MarkProcessing(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	f.processing++
	transitioned := f.doc.Status == models.DocStatusUploaded || f.doc.Status == models.DocStatusFailed
	if transitioned {
		f.doc.Status = models.DocStatusProcessing
	}
	return transitioned, nil
}

func (f *fakeDocuments) MarkFailed(ctx context.Context, tenantID, id uuid.UUID, reason string) error {
	f.doc.Status = models.DocStatusFailed
	f.failedReason = reason
	return nil
}

func (f *fakeDocuments) CheckIndexingQuota(ctx context.Context, doc *models.KnowledgeDocument) error {
	f.quotaChecks++
	return f.quotaErr
}

type fakeEmbedder struct {
	err      error
	failures int // fail this many calls before succeeding
	calls    int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, assert.AnError
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 0.5}
	}
	return out, nil
}

type fakeStore struct {
	replaced [][]vectorstore.Chunk
	err      error
}

func (f *fakeStore) ReplaceDocumentChunks(ctx context.Context, documentID, tenantID uuid.UUID, chunks []vectorstore.Chunk) error {
	if f.err != nil {
		return f.err
	}
	f.replaced = append(f.replaced, chunks)
	return nil
}

func (f *fakeStore) SimilaritySearch(ctx context.Context, query []float32, opts vectorstore.SearchOptions) ([]vectorstore.SearchResult, error) {
	return nil, nil
}

func (f *fakeStore) DeleteDocument(ctx context.Context, tenantID, documentID uuid.UUID) error {
	return nil
}

func uploadedDoc() *models.KnowledgeDocument {
	return &models.KnowledgeDocument{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Status:   models.DocStatusUploaded,
	}
}

func indexTask(t *testing.T, doc *models.KnowledgeDocument) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(queue.DocumentIndexPayload{
		DocumentID: doc.ID.String(),
		TenantID:   doc.TenantID.String(),
	})
	require.NoError(t, err)
	return asynq.NewTask(queue.TypeDocumentIndex, data)
}

func TestIndexingWorkerHappyPath(t *testing.T) {
	doc := uploadedDoc()
	docs := &fakeDocuments{
		doc:     doc,
		content: strings.Repeat("returns are accepted within 30 days of purchase.\n\n", 40),
	}
	embedder := &fakeEmbedder{}
	store := &fakeStore{}

	w := NewIndexingWorker(docs, embedder, store, pipelineCfg())

	err := w.ProcessTask(context.Background(), indexTask(t, doc))
	require.NoError(t, err)

	assert.Equal(t, 1, docs.quotaChecks)
	require.Len(t, store.replaced, 1)

	chunks := store.replaced[0]
	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex, "chunk indexes must be contiguous from zero")
		assert.Equal(t, doc.ID, ch.DocumentID)
		assert.Equal(t, doc.TenantID, ch.TenantID)
		assert.NotEmpty(t, ch.Embedding, "every stored chunk carries its vector")
	}
}

func TestIndexingWorkerAlreadyIndexedSuppressed(t *testing.T) {
	doc := uploadedDoc()
	doc.Status = models.DocStatusIndexed
	docs := &fakeDocuments{doc: doc, content: "irrelevant"}
	embedder := &fakeEmbedder{}
	store := &fakeStore{}

	w := NewIndexingWorker(docs, embedder, store, pipelineCfg())

	err := w.ProcessTask(context.Background(), indexTask(t, doc))
	require.NoError(t, err)

	assert.Zero(t, docs.processing, "an indexed document is never re-run")
	assert.Zero(t, embedder.calls)
	assert.Empty(t, store.replaced)
}

func TestIndexingWorkerQuotaExceededFailsDocument(t *testing.T) {
	doc := uploadedDoc()
	docs := &fakeDocuments{
		doc:      doc,
		content:  "some content",
		quotaErr: &usage.QuotaExceededError{Kind: usage.KindIndexing},
	}
	embedder := &fakeEmbedder{}
	store := &fakeStore{}

	w := NewIndexingWorker(docs, embedder, store, pipelineCfg())

	err := w.ProcessTask(context.Background(), indexTask(t, doc))
	require.NoError(t, err, "quota exhaustion is terminal, not a retryable fault")

	assert.Equal(t, models.DocStatusFailed, doc.Status)
	assert.Zero(t, embedder.calls)
	assert.Empty(t, store.replaced)
}

func TestIndexingWorkerRetrySkipsQuotaCheck(t *testing.T) {
	// A retry after a transient failure finds the document already in
	// processing; quota was consumed on the first attempt.
	doc := uploadedDoc()
	doc.Status = models.DocStatusProcessing
	docs := &fakeDocuments{doc: doc, content: "retryable content"}
	embedder := &fakeEmbedder{}
	store := &fakeStore{}

	w := NewIndexingWorker(docs, embedder, store, pipelineCfg())

	err := w.ProcessTask(context.Background(), indexTask(t, doc))
	require.NoError(t, err)

	assert.Zero(t, docs.quotaChecks, "quota is consumed once per run, not per attempt")
	require.Len(t, store.replaced, 1)
}

func TestIndexingWorkerEmptyContentFailsDocument(t *testing.T) {
	doc := uploadedDoc()
	docs := &fakeDocuments{doc: doc, content: "   \n\n  "}
	store := &fakeStore{}

	w := NewIndexingWorker(docs, &fakeEmbedder{}, store, pipelineCfg())

	err := w.ProcessTask(context.Background(), indexTask(t, doc))
	require.NoError(t, err)

	assert.Equal(t, models.DocStatusFailed, doc.Status)
	assert.Contains(t, docs.failedReason, "no chunks")
	assert.Empty(t, store.replaced)
}

func TestIndexingWorkerEmbeddingFailureRetries(t *testing.T) {
	doc := uploadedDoc()
	docs := &fakeDocuments{doc: doc, content: "embeddable content"}
	embedder := &fakeEmbedder{err: assert.AnError}
	store := &fakeStore{}

	w := NewIndexingWorker(docs, embedder, store, pipelineCfg())

	err := w.ProcessTask(context.Background(), indexTask(t, doc))
	require.Error(t, err, "infrastructure faults propagate for retry")

	// failed is reserved for terminal outcomes; a retryable fault leaves
	// the document in processing so the retry does not re-enter the
	// quota-charging transition.
	assert.Equal(t, models.DocStatusProcessing, doc.Status)
	assert.Empty(t, docs.failedReason)
	assert.Empty(t, store.replaced)
}

func TestIndexingWorkerRetryChargesQuotaOnce(t *testing.T) {
	doc := uploadedDoc()
	docs := &fakeDocuments{doc: doc, content: "embeddable content"}
	// Embedding fails on the first delivery and succeeds on the retry.
	embedder := &fakeEmbedder{failures: 1}
	store := &fakeStore{}

	w := NewIndexingWorker(docs, embedder, store, pipelineCfg())
	task := indexTask(t, doc)

	err := w.ProcessTask(context.Background(), task)
	require.Error(t, err)

	err = w.ProcessTask(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, 1, docs.quotaChecks, "one document consumes the indexing quota exactly once across retries")
	require.Len(t, store.replaced, 1)
}

func TestIndexingWorkerMalformedPayloadNotRetried(t *testing.T) {
	w := NewIndexingWorker(&fakeDocuments{doc: uploadedDoc()}, &fakeEmbedder{}, &fakeStore{}, pipelineCfg())

	err := w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeDocumentIndex, []byte("{broken")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	badID, _ := json.Marshal(queue.DocumentIndexPayload{DocumentID: "not-a-uuid", TenantID: uuid.NewString()})
	err = w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeDocumentIndex, badID))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
