package types

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

type TransactionStatus string

const (
	StatusPending       TransactionStatus = "PENDING"
	StatusSigningFailed TransactionStatus = "SIGNING_FAILED"
	StatusSigned        TransactionStatus = "SIGNED"
	StatusBroadcast     TransactionStatus = "BROADCAST"
	StatusRejected      TransactionStatus = "REJECTED"
)

// TransactionHistory tracks one fee-delegated transaction submitted for fee
// payer co-signing.
type TransactionHistory struct {
	ID           uuid.UUID              `json:"id"`
	Sender       string                 `json:"sender"`
	FeePayer     string                 `json:"fee_payer"`
	RawTx        string                 `json:"raw_tx"`
	TxHash       *string                `json:"tx_hash,omitempty"`
	Status       TransactionStatus      `json:"status"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	Metadata     map[string]interface{} `json:"metadata"`
	ErrorMessage *string                `json:"error_message,omitempty"`
}

// FeePayerSignRequest carries a sender-signed fee-delegated transaction.
type FeePayerSignRequest struct {
	RawTx string `json:"raw_tx"`
}

func (r *FeePayerSignRequest) IsValid() bool {
	raw := strings.TrimPrefix(r.RawTx, "0x")
	if raw == "" {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}

// Bytes returns the decoded wire bytes. Call IsValid first.
func (r *FeePayerSignRequest) Bytes() []byte {
	b, _ := hex.DecodeString(strings.TrimPrefix(r.RawTx, "0x"))
	return b
}

type FeePayerSignResponse struct {
	ID     uuid.UUID         `json:"id"`
	Status TransactionStatus `json:"status"`
	Sender string            `json:"sender"`
}

// StatusUpdate moves a history row to Status. A nil TxHash keeps the stored
// hash; Metadata is merged into the stored metadata.
type StatusUpdate struct {
	Status       TransactionStatus
	TxHash       *string
	ErrorMessage *string
	Metadata     map[string]interface{}
}
