package tasks

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

func NewFeePayerSign(historyID uuid.UUID, rawTx string) (*asynq.Task, error) {
	payload, err := json.Marshal(FeePayerSignPayload{HistoryID: historyID, RawTx: rawTx})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeFeePayerSign, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
		asynq.Retention(10*time.Minute),
		asynq.Queue(QUEUE_NAME)), nil
}
