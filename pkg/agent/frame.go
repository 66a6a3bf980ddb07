package agent

import "encoding/json"

// Frame types on a tunnel connection.
const (
	FrameTypeRequest  = "request"
	FrameTypeResponse = "response"
	FrameTypePing     = "ping"
	FrameTypePong     = "pong"
	FrameTypeError    = "error"
)

// Frame is a JSON-framed message on a tunnel connection. Requests arrive
// from the gateway, are forwarded to the matching local upstream and
// answered with a response frame carrying the same correlation ID.
type Frame struct {
	Type     string            `json:"type"`
	ID       string            `json:"id"`
	Upstream string            `json:"upstream,omitempty"`
	Method   string            `json:"method,omitempty"`
	Path     string            `json:"path,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     []byte            `json:"body,omitempty"`
	Status   int               `json:"status,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// NewResponseFrame creates a response frame for a request.
func NewResponseFrame(id string, status int, headers map[string]string, body []byte) *Frame {
	return &Frame{
		Type:    FrameTypeResponse,
		ID:      id,
		Status:  status,
		Headers: headers,
		Body:    body,
	}
}

// NewErrorFrame creates an error frame for a request.
func NewErrorFrame(id, code, message string) *Frame {
	return &Frame{
		Type:  FrameTypeError,
		ID:    id,
		Error: code + ": " + message,
	}
}

// Encode serializes a frame to JSON bytes.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame deserializes a JSON tunnel frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
