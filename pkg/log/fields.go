package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Session
	FieldClientID    = "client_id"
	FieldRoomID      = "room_id"
	FieldRole        = "role"
	FieldMessageType = "message_type"
	FieldMembers     = "members"

	// Service
	FieldService  = "service"
	FieldInstance = "instance_id"

	// gRPC
	FieldGRPCMethod = "grpc_method"
	FieldGRPCCode   = "grpc_code"
)
