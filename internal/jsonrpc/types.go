// Package jsonrpc defines the JSON-RPC 2.0 envelope exchanged over a message channel.
// file: internal/jsonrpc/types.go
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Version is the only supported JSON-RPC version.
const Version = "2.0"

// Error is a JSON-RPC error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Message is the single envelope used for requests, notifications and responses.
// Requests carry ID and Method; notifications carry Method without ID; responses carry
// ID and exactly one of Result or Error.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

var nullJSON = []byte("null")

// HasID reports whether the message carries a non-null id.
func (m *Message) HasID() bool {
	return len(m.ID) > 0 && !bytes.Equal(bytes.TrimSpace(m.ID), nullJSON)
}

// IsRequest reports whether m is a request expecting a response.
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.HasID()
}

// IsNotification reports whether m is a notification.
func (m *Message) IsNotification() bool {
	return m.Method != "" && !m.HasID()
}

// IsResponse reports whether m is a response to an earlier request.
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.HasID() && (len(m.Result) > 0 || m.Error != nil)
}

// IntID returns the id as an int64 when it is an integral JSON number.
func (m *Message) IntID() (int64, bool) {
	if !m.HasID() {
		return 0, false
	}
	n, err := strconv.ParseInt(string(bytes.TrimSpace(m.ID)), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IntID encodes n as a JSON id.
func IntID(n int64) json.RawMessage {
	return json.RawMessage(strconv.FormatInt(n, 10))
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal params")
	}
	return b, nil
}

// NewRequest builds a request with an integer id.
func NewRequest(id int64, method string, params interface{}) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, ID: IntID(id), Method: method, Params: raw}, nil
}

// NewNotification builds a notification.
func NewNotification(method string, params interface{}) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResult builds a success response. A nil result is sent as an empty object so the
// response always carries a result member.
func NewResult(id json.RawMessage, result interface{}) (*Message, error) {
	var raw json.RawMessage
	switch r := result.(type) {
	case nil:
		raw = json.RawMessage("{}")
	case json.RawMessage:
		raw = r
	default:
		b, err := json.Marshal(r)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal result")
		}
		raw = b
	}
	return &Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id json.RawMessage, code int, message string) *Message {
	return &Message{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

// Encode serializes m.
func Encode(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode JSON-RPC message")
	}
	return b, nil
}

// Decode parses a payload into a Message and checks the envelope shape.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "invalid JSON-RPC payload")
	}
	if err := m.Check(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Check enforces the structural rules of a JSON-RPC 2.0 envelope.
func (m *Message) Check() error {
	if m.JSONRPC != Version {
		return errors.Newf("unsupported JSON-RPC version %q", m.JSONRPC)
	}
	hasResult := len(m.Result) > 0
	hasError := m.Error != nil
	if m.Method != "" {
		if hasResult || hasError {
			return errors.New("request or notification cannot carry result or error")
		}
		return nil
	}
	if !m.HasID() {
		return errors.New("response must carry an id")
	}
	if hasResult == hasError {
		return errors.New("response must carry exactly one of result or error")
	}
	return nil
}
