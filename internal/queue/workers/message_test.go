package workers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayoubkhl/ragrelay/internal/channel"
	"github.com/ayoubkhl/ragrelay/internal/config"
	"github.com/ayoubkhl/ragrelay/internal/ingest"
	"github.com/ayoubkhl/ragrelay/internal/llm"
	"github.com/ayoubkhl/ragrelay/internal/models"
	"github.com/ayoubkhl/ragrelay/internal/queue"
	"github.com/ayoubkhl/ragrelay/internal/usage"
	"github.com/ayoubkhl/ragrelay/internal/vectorstore"
	"github.com/ayoubkhl/ragrelay/pkg/tokenizer"
)

type fakeResolver struct {
	ch    *models.Channel
	err   error
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, phone string) (*models.Channel, error) {
	f.calls++
	return f.ch, f.err
}

type fakeLedger struct {
	deltas []models.UsageDelta
	errs   []error // consumed in call order; nil past the end
}

func (f *fakeLedger) TryConsume(ctx context.Context, tenantID uuid.UUID, day time.Time, delta models.UsageDelta) error {
	call := len(f.deltas)
	f.deltas = append(f.deltas, delta)
	if call < len(f.errs) {
		return f.errs[call]
	}
	return nil
}

func (f *fakeLedger) Counters(ctx context.Context, tenantID uuid.UUID, day time.Time) (*models.UsageCounters, error) {
	return &models.UsageCounters{TenantID: tenantID}, nil
}

type fakeRetriever struct {
	results []vectorstore.SearchResult
	err     error
}

func (f *fakeRetriever) Search(ctx context.Context, tenantID uuid.UUID, query string, k int) ([]vectorstore.SearchResult, error) {
	return f.results, f.err
}

type fakeGateway struct {
	resp     *llm.ChatResponse
	err      error
	failures int // fail this many calls before succeeding
	onChat   func()
	lastReq  llm.ChatRequest
	chatCall int
}

func (f *fakeGateway) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.chatCall++
	f.lastReq = req
	if f.onChat != nil {
		f.onChat()
	}
	if f.failures > 0 {
		f.failures--
		return nil, assert.AnError
	}
	return f.resp, f.err
}

func (f *fakeGateway) Embed(ctx context.Context, req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	return nil, assert.AnError
}

func (f *fakeGateway) Provider(name string) (llm.Provider, error) {
	return nil, assert.AnError
}

type fakeConvs struct {
	conv     *models.Conversation
	inbound  int
	outbound int
}

func (f *fakeConvs) FindOrCreate(ctx context.Context, tenantID, channelID uuid.UUID, contactPhone string) (*models.Conversation, error) {
	return f.conv, nil
}

func (f *fakeConvs) RecordInbound(ctx context.Context, conv *models.Conversation, providerMessageID, content string, tokensIn int) error {
	f.inbound++
	return nil
}

func (f *fakeConvs) RecordOutbound(ctx context.Context, conv *models.Conversation, content string, tokensOut int) (*models.Message, error) {
	f.outbound++
	return &models.Message{ID: uuid.New(), Content: content}, nil
}

type fakeMarker struct {
	set map[string]bool
}

func newFakeMarker() *fakeMarker { return &fakeMarker{set: make(map[string]bool)} }

func (f *fakeMarker) Exists(ctx context.Context, key string) (bool, error) {
	return f.set[key], nil
}

func (f *fakeMarker) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if f.set[key] {
		return false, nil
	}
	f.set[key] = true
	return true, nil
}

func pipelineCfg() config.PipelineConfig {
	return config.PipelineConfig{
		RetrievalTopK:      5,
		ContextTokenBudget: 1000,
		EmbedTimeout:       time.Minute,
		RetrieveTimeout:    time.Minute,
		ProcessedMarkerTTL: time.Hour,
	}
}

func messageTask(t *testing.T, ev ingest.InboundMessageEvent) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(queue.MessageProcessPayload{Event: ev})
	require.NoError(t, err)
	return asynq.NewTask(queue.TypeMessageProcess, data)
}

func testEvent() ingest.InboundMessageEvent {
	return ingest.InboundMessageEvent{
		Provider:           "whatsapp",
		ChannelPhoneNumber: "+14155552671",
		FromPhoneNumber:    "+442071838750",
		ProviderMessageID:  "wamid.test.1",
		Text:               "what are your opening hours?",
		ReceivedAt:         time.Now().UTC(),
	}
}

func testChannel() *models.Channel {
	return &models.Channel{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Type:     models.ChannelTypeWhatsApp,
		IsActive: true,
	}
}

func TestMessageWorkerHappyPath(t *testing.T) {
	resolver := &fakeResolver{ch: testChannel()}
	ledger := &fakeLedger{}
	retriever := &fakeRetriever{results: []vectorstore.SearchResult{
		{Content: "we are open 9-5 monday to friday", Score: 0.92, TokenCount: 10},
	}}
	gw := &fakeGateway{resp: &llm.ChatResponse{Content: "We are open 9-5, Monday to Friday.", OutputTokens: 12}}
	convs := &fakeConvs{conv: &models.Conversation{ID: uuid.New()}}
	marker := newFakeMarker()

	w := NewMessageWorker(resolver, ledger, retriever, gw, convs, marker, pipelineCfg())

	err := w.ProcessTask(context.Background(), messageTask(t, testEvent()))
	require.NoError(t, err)

	assert.Equal(t, 1, convs.inbound)
	assert.Equal(t, 1, convs.outbound, "exactly one outbound artifact per inbound message")
	assert.True(t, marker.set["processed:msg:wamid.test.1"])

	require.Len(t, ledger.deltas, 2)
	assert.Equal(t, int64(1), ledger.deltas[0].MessagesIn)
	assert.Equal(t, int64(1), ledger.deltas[1].MessagesOut)
	assert.Equal(t, int64(12), ledger.deltas[1].TokensOut)

	// The retrieved chunk must reach the model inside the system prompt.
	require.NotEmpty(t, gw.lastReq.Messages)
	assert.Equal(t, "system", gw.lastReq.Messages[0].Role)
	assert.Contains(t, gw.lastReq.Messages[0].Content, "we are open 9-5 monday to friday")
}

func TestMessageWorkerDuplicateSuppressed(t *testing.T) {
	resolver := &fakeResolver{ch: testChannel()}
	ledger := &fakeLedger{}
	gw := &fakeGateway{resp: &llm.ChatResponse{Content: "hi"}}
	convs := &fakeConvs{conv: &models.Conversation{ID: uuid.New()}}
	marker := newFakeMarker()
	marker.set["processed:msg:wamid.test.1"] = true

	w := NewMessageWorker(resolver, ledger, &fakeRetriever{}, gw, convs, marker, pipelineCfg())

	err := w.ProcessTask(context.Background(), messageTask(t, testEvent()))
	require.NoError(t, err)

	assert.Zero(t, resolver.calls, "a completed message is not reprocessed")
	assert.Zero(t, convs.outbound)
	assert.Empty(t, ledger.deltas)
}

func TestMessageWorkerUnknownChannelDropped(t *testing.T) {
	resolver := &fakeResolver{err: channel.ErrNotFound}
	ledger := &fakeLedger{}
	convs := &fakeConvs{}

	w := NewMessageWorker(resolver, ledger, &fakeRetriever{}, &fakeGateway{}, convs, newFakeMarker(), pipelineCfg())

	err := w.ProcessTask(context.Background(), messageTask(t, testEvent()))
	require.NoError(t, err, "an unroutable event is dropped, not retried")
	assert.Empty(t, ledger.deltas, "dropped events never touch the usage ledger")
	assert.Zero(t, convs.inbound)
}

func TestMessageWorkerAmbiguousChannelDropped(t *testing.T) {
	resolver := &fakeResolver{err: channel.ErrAmbiguous}
	ledger := &fakeLedger{}

	w := NewMessageWorker(resolver, ledger, &fakeRetriever{}, &fakeGateway{}, &fakeConvs{}, newFakeMarker(), pipelineCfg())

	err := w.ProcessTask(context.Background(), messageTask(t, testEvent()))
	require.NoError(t, err)
	assert.Empty(t, ledger.deltas)
}

func TestMessageWorkerQuotaExceededDropped(t *testing.T) {
	resolver := &fakeResolver{ch: testChannel()}
	ledger := &fakeLedger{errs: []error{&usage.QuotaExceededError{Kind: usage.KindMessages}}}
	convs := &fakeConvs{}
	gw := &fakeGateway{}

	w := NewMessageWorker(resolver, ledger, &fakeRetriever{}, gw, convs, newFakeMarker(), pipelineCfg())

	err := w.ProcessTask(context.Background(), messageTask(t, testEvent()))
	require.NoError(t, err, "quota exhaustion is terminal, not a retryable fault")
	assert.Zero(t, convs.inbound, "nothing is recorded for a quota-dropped message")
	assert.Zero(t, gw.chatCall)
}

func TestMessageWorkerRagQuotaExceededDropped(t *testing.T) {
	resolver := &fakeResolver{ch: testChannel()}
	ledger := &fakeLedger{}
	retriever := &fakeRetriever{err: &usage.QuotaExceededError{Kind: usage.KindRagQueries}}
	convs := &fakeConvs{conv: &models.Conversation{ID: uuid.New()}}
	gw := &fakeGateway{}

	w := NewMessageWorker(resolver, ledger, retriever, gw, convs, newFakeMarker(), pipelineCfg())

	err := w.ProcessTask(context.Background(), messageTask(t, testEvent()))
	require.NoError(t, err)
	assert.Equal(t, 1, convs.inbound, "the inbound message is recorded before retrieval")
	assert.Zero(t, convs.outbound)
	assert.Zero(t, gw.chatCall)
}

func TestMessageWorkerLeaseLostBeforeFinalWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	resolver := &fakeResolver{ch: testChannel()}
	convs := &fakeConvs{conv: &models.Conversation{ID: uuid.New()}}
	// The lease expires while generation is in flight.
	gw := &fakeGateway{
		resp:   &llm.ChatResponse{Content: "late answer", OutputTokens: 3},
		onChat: cancel,
	}

	w := NewMessageWorker(resolver, &fakeLedger{}, &fakeRetriever{}, gw, convs, newFakeMarker(), pipelineCfg())

	err := w.ProcessTask(ctx, messageTask(t, testEvent()))
	require.Error(t, err, "a lost lease surrenders completion to the redelivered copy")
	assert.Zero(t, convs.outbound, "no artifact is written after the lease is gone")
}

func TestMessageWorkerRetryChargesInboundQuotaOnce(t *testing.T) {
	resolver := &fakeResolver{ch: testChannel()}
	ledger := &fakeLedger{}
	convs := &fakeConvs{conv: &models.Conversation{ID: uuid.New()}}
	marker := newFakeMarker()
	// Generation fails on the first delivery and succeeds on the retry.
	gw := &fakeGateway{
		resp:     &llm.ChatResponse{Content: "answer", OutputTokens: 5},
		failures: 1,
	}

	w := NewMessageWorker(resolver, ledger, &fakeRetriever{}, gw, convs, marker, pipelineCfg())
	task := messageTask(t, testEvent())

	err := w.ProcessTask(context.Background(), task)
	require.Error(t, err, "the first attempt fails after the quota consume")

	err = w.ProcessTask(context.Background(), task)
	require.NoError(t, err)

	var messagesIn, tokensIn int64
	for _, d := range ledger.deltas {
		messagesIn += d.MessagesIn
		tokensIn += d.TokensIn
	}
	assert.Equal(t, int64(1), messagesIn, "one provider message id consumes the inbound quota exactly once")
	assert.Equal(t, int64(tokenizer.CountTokens(testEvent().Text)), tokensIn)
	assert.Equal(t, 1, convs.outbound)
}

func TestMessageWorkerMalformedPayloadNotRetried(t *testing.T) {
	w := NewMessageWorker(&fakeResolver{}, &fakeLedger{}, &fakeRetriever{}, &fakeGateway{}, &fakeConvs{}, newFakeMarker(), pipelineCfg())

	err := w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeMessageProcess, []byte("{broken")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
