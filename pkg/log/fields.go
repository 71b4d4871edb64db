package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Service
	FieldService    = "service"
	FieldInstanceID = "instance_id"

	// Chat
	FieldRoomID       = "room_id"
	FieldMessageID    = "message_id"
	FieldSender       = "sender"
	FieldIdentity     = "identity"
	FieldConnectionID = "connection_id"
	FieldChannel      = "channel"

	// Transport
	FieldTopic     = "topic"
	FieldPartition = "partition"
	FieldOffset    = "offset"
	FieldAttempt   = "attempt"

	// gRPC
	FieldGRPCMethod = "grpc_method"
	FieldGRPCCode   = "grpc_code"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
