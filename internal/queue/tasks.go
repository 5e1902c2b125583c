package queue

import (
	"github.com/ayoubkhl/ragrelay/internal/ingest"
)

const (
	TypeMessageProcess = "message:process"
	TypeDocumentIndex  = "document:index"
)

const (
	QueueMessages = "messages"
	QueueIndexing = "indexing"
)

type MessageProcessPayload struct {
	Event ingest.InboundMessageEvent `json:"event"`
}

type DocumentIndexPayload struct {
	DocumentID string `json:"document_id"`
	TenantID   string `json:"tenant_id"`
}
