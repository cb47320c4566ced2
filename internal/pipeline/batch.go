package pipeline

import (
	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/models"
)

// Split partitions records into consecutive batches of at most size
// records. Batches share the input's backing array but cannot grow into
// each other.
func Split(records []models.Record, size int) ([][]models.Record, error) {
	if size <= 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "batch size must be positive").
			WithDetail("batch_size", size)
	}
	if len(records) == 0 {
		return nil, nil
	}

	batches := make([][]models.Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end:end])
	}
	return batches, nil
}
