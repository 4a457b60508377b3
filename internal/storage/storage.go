package storage

import "poolEngine/internal/model"

// Sink defines a destination for completed operation records.
type Sink interface {
	PutOperations(records []model.OperationRecord) error
}
