package litedb

// batchOp is one staged operation inside a BatchOperations builder.
type batchOp struct {
	key       []byte
	value     []byte
	tombstone bool
}

// BatchOperations collects a group of writes to be applied together through
// Engine.ApplyBatch, which writes all of them to the current memtable's WAL
// with a single flush and then inserts them into the memtable under one
// lock. The WAL has no batch marker: if writing fails or the process
// crashes partway, a later replay recovers whichever whole records reached
// the file.
type BatchOperations struct {
	ops []batchOp
}

// NewBatchOperations returns an empty batch builder.
func NewBatchOperations() *BatchOperations {
	return &BatchOperations{}
}

// Insert stages a Set(key, value).
func (b *BatchOperations) Insert(key, value []byte) *BatchOperations {
	b.ops = append(b.ops, batchOp{key: key, value: value})
	return b
}

// Delete stages a tombstone for key.
func (b *BatchOperations) Delete(key []byte) *BatchOperations {
	b.ops = append(b.ops, batchOp{key: key, tombstone: true})
	return b
}

// Len returns the number of staged operations.
func (b *BatchOperations) Len() int {
	return len(b.ops)
}

// SizeBytes sums key.len + value.len over the staged operations, the same
// accounting a memtable applies to individual writes, so callers can decide
// whether a batch is worth splitting before applying it.
func (b *BatchOperations) SizeBytes() int64 {
	var total int64
	for _, op := range b.ops {
		total += int64(len(op.key) + len(op.value))
	}
	return total
}
