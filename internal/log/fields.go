package log

import "weeklytotals/internal/core"

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldOrigin     = "origin"
	FieldWeekKey    = "week_key"
	FieldCreatedAt  = "created_at"
	FieldCategory   = "category"
	FieldAmount     = "amount"
	FieldAdjustment = "is_adjustment"
	FieldEntity     = "entity"
	FieldRemotePath = "remote_path"
	FieldDeviceID   = "device_id"
)

// Components defines standard component names
const (
	ComponentApp      = "app"
	ComponentHTTP     = "http"
	ComponentLedger   = "ledger"
	ComponentSync     = "sync"
	ComponentRollover = "rollover"
	ComponentStorage  = "storage"
	ComponentReplica  = "replica"
	ComponentSheets   = "sheets"
	ComponentAMQP     = "amqp"
	ComponentCache    = "cache"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpPush      = "push"
	OpReconcile = "reconcile"
	OpBootstrap = "bootstrap"
	OpRollover  = "rollover"
	OpClear     = "clear"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithOrigin(o core.Origin) LogFields {
	f[FieldOrigin] = o.String()
	return f
}

// WithTransaction adds the identifying fields of a ledger entry.
func (f LogFields) WithTransaction(t core.Transaction) LogFields {
	f[FieldWeekKey] = t.WeekKey
	f[FieldCreatedAt] = t.CreatedAt
	f[FieldCategory] = t.Category
	f[FieldAmount] = t.Amount.StringFixed(2)
	if t.IsAdjustment {
		f[FieldAdjustment] = true
	}
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
