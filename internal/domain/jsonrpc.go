// Package domain defines the core entities for the knowledge retrieval server:
// JSON-RPC envelopes, tool descriptors, search types, and the interfaces the
// transport layer consumes.
package domain

import (
	"bytes"
	"encoding/json"
)

// JSONRPCVersion is the protocol version string carried by every envelope.
const JSONRPCVersion = "2.0"

// Reserved JSON-RPC 2.0 error codes.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
)

// JSONRPCRequest represents a JSON-RPC request or notification. A request
// carries a non-null ID; a notification carries none.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC response. Exactly one of Result or
// Error is set.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC error object.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CreateResponse creates a new JSONRPCResponse with the given ID and result.
func CreateResponse(id interface{}, result interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}
}

// CreateErrorResponse creates a new JSONRPCResponse with the given ID and error.
func CreateErrorResponse(id interface{}, code int, message string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
	}
}

// MessageKind discriminates the classification of a decoded envelope.
type MessageKind int

const (
	// KindMalformed marks a payload that satisfies none of the envelope shapes.
	KindMalformed MessageKind = iota
	// KindRequest marks an envelope with a method and a non-null ID.
	KindRequest
	// KindNotification marks an envelope with a method and no ID.
	KindNotification
	// KindResponse marks an envelope carrying a result or error and no method.
	KindResponse
)

// Message is the classified form of one inbound envelope. Request is set for
// KindRequest and KindNotification; Response is set for KindResponse.
type Message struct {
	Kind     MessageKind
	Request  *JSONRPCRequest
	Response *JSONRPCResponse
}

var nullLiteral = []byte("null")

// ClassifyMessage categorizes one decoded JSON value as a request,
// notification, or response. The three categories are mutually exclusive;
// anything else is malformed and should be answered with an InvalidRequest
// error when a reply is owed.
func ClassifyMessage(raw json.RawMessage) Message {
	var probe struct {
		Method string          `json:"method"`
		ID     json.RawMessage `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Message{Kind: KindMalformed}
	}

	hasID := len(probe.ID) > 0 && !bytes.Equal(probe.ID, nullLiteral)

	if probe.Method != "" {
		if !hasID {
			var req JSONRPCRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return Message{Kind: KindMalformed}
			}
			return Message{Kind: KindNotification, Request: &req}
		}
		// A true request ID must be a string or a number.
		if !validRequestID(probe.ID) {
			return Message{Kind: KindMalformed}
		}
		var req JSONRPCRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return Message{Kind: KindMalformed}
		}
		return Message{Kind: KindRequest, Request: &req}
	}

	if len(probe.Result) > 0 || len(probe.Error) > 0 {
		var resp JSONRPCResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return Message{Kind: KindMalformed}
		}
		return Message{Kind: KindResponse, Response: &resp}
	}

	return Message{Kind: KindMalformed}
}

// validRequestID reports whether the raw ID literal is a JSON string or number.
func validRequestID(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	switch trimmed[0] {
	case '"':
		return true
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return true
	}
	return false
}

// SplitBatch normalizes a decoded JSON payload into a list of envelopes. A
// bare object becomes a one-element list with batch=false; an array keeps its
// elements with batch=true. Any other payload shape reports ok=false and must
// be treated as a parse error.
func SplitBatch(raw json.RawMessage) (envelopes []json.RawMessage, batch bool, ok bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false, false
	}
	switch trimmed[0] {
	case '{':
		return []json.RawMessage{trimmed}, false, true
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, false, false
		}
		return items, true, true
	}
	return nil, false, false
}
