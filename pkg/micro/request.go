package micro

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"google.golang.org/grpc/codes"

	"github.com/argus-labs/lobby-launcher/pkg/assert"
)

// Handler defines the signature for all service endpoint handlers.
type Handler func(ctx context.Context, req *Request) *Response

// Status is the transport-level outcome of a request. Application outcomes (for example a failed
// random join) travel in the payload with an OK status.
type Status struct {
	Code    codes.Code `json:"code"`
	Message string     `json:"message,omitempty"`
}

// StatusError is returned by Client.Request when the service replied with a non-OK status.
type StatusError struct {
	Code    codes.Code
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// envelope is the wire format shared by requests and responses.
type envelope struct {
	RequestID      string          `json:"request_id,omitempty"`
	ServiceAddress *ServiceAddress `json:"service_address,omitempty"`
	Status         *Status         `json:"status,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Request represents an incoming service request with its metadata.
type Request struct {
	// Raw is the original NATS message.
	Raw *nats.Msg

	// RequestID is extracted from the request if available.
	RequestID string

	// ServiceAddress is the address of the service handling the request.
	ServiceAddress *ServiceAddress

	// Payload is the undecoded request payload, if any.
	Payload json.RawMessage
}

// Decode unmarshals the request payload into v.
func (r *Request) Decode(v any) error {
	if len(r.Payload) == 0 {
		return eris.New("request has no payload")
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return eris.Wrap(err, "failed to unmarshal request payload")
	}
	return nil
}

// Response represents a structured reply to a Request.
type Response struct {
	RequestID      string
	ServiceAddress *ServiceAddress
	Status         Status
	Payload        json.RawMessage
}

// Decode unmarshals the response payload into v.
func (r *Response) Decode(v any) error {
	if len(r.Payload) == 0 {
		return eris.New("response has no payload")
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return eris.Wrap(err, "failed to unmarshal response payload")
	}
	return nil
}

// Bytes returns the response as a byte slice ready to be sent over NATS.
func (r *Response) Bytes() ([]byte, error) {
	status := r.Status
	return json.Marshal(envelope{
		RequestID:      r.RequestID,
		ServiceAddress: r.ServiceAddress,
		Status:         &status,
		Payload:        r.Payload,
	})
}

// NewRequestFromNATSMsg converts a nats.Msg to a Request.
func NewRequestFromNATSMsg(msg *nats.Msg, serviceAddr *ServiceAddress) (*Request, error) {
	req := &Request{
		Raw:            msg,
		ServiceAddress: serviceAddr,
	}

	if len(msg.Data) > 0 {
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return nil, eris.Wrap(err, "failed to unmarshal request")
		}
		req.RequestID = env.RequestID
		req.Payload = env.Payload
	}

	return req, nil
}

// NewSuccessResponse creates a successful response with optional payload.
func NewSuccessResponse(req *Request, payload any) *Response {
	var raw json.RawMessage
	if payload != nil {
		bz, err := json.Marshal(payload)
		if err != nil {
			return NewErrorResponse(req, eris.Wrap(err, "failed to marshal payload"), codes.Internal)
		}
		raw = bz
	}

	return &Response{
		RequestID:      req.RequestID,
		ServiceAddress: req.ServiceAddress,
		Status:         Status{Code: codes.OK},
		Payload:        raw,
	}
}

// NewErrorResponse creates an error response with the given error.
// The code parameter must not be codes.OK, as this function is only for error responses.
func NewErrorResponse(req *Request, err error, code codes.Code) *Response {
	assert.That(code != codes.OK, "NewErrorResponse called with codes.OK")

	message := "Unknown error"
	if err != nil {
		message = err.Error()
	}

	return &Response{
		RequestID:      req.RequestID,
		ServiceAddress: req.ServiceAddress,
		Status:         Status{Code: code, Message: message},
	}
}
