package domain

import "time"

// Result is the normalized envelope returned by every tool invocation.
type Result struct {
	Success  bool         `json:"success"`
	Data     interface{}  `json:"data,omitempty"`
	Error    *ResultError `json:"error,omitempty"`
	Metadata Metadata     `json:"metadata"`
}

// ResultError carries an application-level error with a stable string code,
// distinct from the JSON-RPC numeric codes.
type ResultError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Metadata identifies which service produced a result and when.
type Metadata struct {
	Service   string    `json:"service"`
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
}

// SuccessResult builds a successful tool result.
func SuccessResult(service, operation string, data interface{}) *Result {
	return &Result{
		Success: true,
		Data:    data,
		Metadata: Metadata{
			Service:   service,
			Operation: operation,
			Timestamp: time.Now(),
		},
	}
}

// ErrorResult builds a failed tool result.
func ErrorResult(service, operation, code, message string, details interface{}) *Result {
	return &Result{
		Success: false,
		Error:   &ResultError{Code: code, Message: message, Details: details},
		Metadata: Metadata{
			Service:   service,
			Operation: operation,
			Timestamp: time.Now(),
		},
	}
}
