package kafka

import "context"

// DeliveryReport is the broker's verdict on one produced record.
type DeliveryReport struct {
	Partition int32
	Offset    int64
	Err       error
}

// Producer submits keyed records. Produce returns once the record is queued;
// the outcome arrives later on report (buffered, capacity >= 1).
type Producer interface {
	Produce(key string, value []byte, report chan<- DeliveryReport) error
	Close() error
}

// Record is one message received from the transport.
type Record struct {
	Key       string
	Value     []byte
	Partition int32
	Offset    int64
}

// Consumer delivers records to handle in partition order until ctx ends.
type Consumer interface {
	Run(ctx context.Context, handle func(ctx context.Context, rec Record)) error
	Close() error
}
