package tasks

import "github.com/google/uuid"

const (
	QUEUE_NAME = "sharekeeper"

	TypeFeePayerSign = "tx:fee_payer_sign"
)

// FeePayerSignPayload asks the worker to co-sign and broadcast a
// sender-signed fee-delegated transaction.
type FeePayerSignPayload struct {
	HistoryID uuid.UUID `json:"history_id"`
	RawTx     string    `json:"raw_tx"`
}
