package v201

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/seu-repo/sigec-csms/internal/domain"
)

// ErrorCode is an OCPP-J CallError code.
type ErrorCode string

const (
	FormatViolation               ErrorCode = "FormatViolation"
	GenericError                  ErrorCode = "GenericError"
	InternalError                 ErrorCode = "InternalError"
	MessageTypeNotSupported       ErrorCode = "MessageTypeNotSupported"
	NotImplemented                ErrorCode = "NotImplemented"
	NotSupported                  ErrorCode = "NotSupported"
	OccurrenceConstraintViolation ErrorCode = "OccurrenceConstraintViolation"
	PropertyConstraintViolation   ErrorCode = "PropertyConstraintViolation"
	ProtocolError                 ErrorCode = "ProtocolError"
	RpcFrameworkError             ErrorCode = "RpcFrameworkError"
	SecurityError                 ErrorCode = "SecurityError"
	TypeConstraintViolation       ErrorCode = "TypeConstraintViolation"
)

// unknownID answers frames whose correlation id could not be read.
const unknownID = "-1"

// CallError is both the decoded form of a [4,...] frame and the error value
// produced when a frame or payload is rejected.
type CallError struct {
	Code        ErrorCode
	Description string
	Details     json.RawMessage
}

func (e *CallError) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap exposes the domain sentinel behind the code.
func (e *CallError) Unwrap() error {
	switch e.Code {
	case NotImplemented, NotSupported:
		return domain.ErrNotImplemented
	case SecurityError:
		return domain.ErrSecurityViolation
	case FormatViolation, TypeConstraintViolation, OccurrenceConstraintViolation,
		PropertyConstraintViolation, ProtocolError, MessageTypeNotSupported, RpcFrameworkError:
		return domain.ErrProtocolFormat
	}
	return nil
}

func newCallError(code ErrorCode, format string, args ...any) *CallError {
	return &CallError{Code: code, Description: fmt.Sprintf(format, args...)}
}

// Frame is one decoded envelope. Which fields are set depends on Kind.
type Frame struct {
	Kind             MessageType
	ID               string
	Action           string
	Payload          json.RawMessage
	ErrorCode        ErrorCode
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// Err returns the CallError carried by a [4,...] frame.
func (f *Frame) Err() *CallError {
	return &CallError{Code: f.ErrorCode, Description: f.ErrorDescription, Details: f.ErrorDetails}
}

// Decode parses the envelope only; payloads stay raw. On failure the
// returned frame still carries whatever kind and id could be read so the
// caller can address its CallError reply.
func Decode(data []byte) (*Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return &Frame{ID: unknownID}, newCallError(RpcFrameworkError, "envelope is not a JSON array")
	}
	if len(parts) < 3 {
		return &Frame{ID: unknownID}, newCallError(RpcFrameworkError, "envelope has %d elements", len(parts))
	}

	f := &Frame{ID: unknownID}
	var kind int
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return f, newCallError(RpcFrameworkError, "message type is not a number")
	}
	f.Kind = MessageType(kind)
	var id string
	if err := json.Unmarshal(parts[1], &id); err != nil || id == "" {
		return f, newCallError(RpcFrameworkError, "message id must be a non-empty string")
	}
	f.ID = id

	switch f.Kind {
	case MessageCall:
		if len(parts) != 4 {
			return f, newCallError(FormatViolation, "call must have 4 elements, got %d", len(parts))
		}
		if err := json.Unmarshal(parts[2], &f.Action); err != nil || f.Action == "" {
			return f, newCallError(FormatViolation, "action must be a non-empty string")
		}
		f.Payload = parts[3]
	case MessageResult:
		if len(parts) != 3 {
			return f, newCallError(FormatViolation, "call result must have 3 elements, got %d", len(parts))
		}
		f.Payload = parts[2]
	case MessageError:
		if len(parts) != 5 {
			return f, newCallError(FormatViolation, "call error must have 5 elements, got %d", len(parts))
		}
		var code string
		if err := json.Unmarshal(parts[2], &code); err != nil {
			return f, newCallError(FormatViolation, "error code must be a string")
		}
		f.ErrorCode = ErrorCode(code)
		_ = json.Unmarshal(parts[3], &f.ErrorDescription)
		f.ErrorDetails = parts[4]
	default:
		return f, newCallError(MessageTypeNotSupported, "message type %d", kind)
	}
	return f, nil
}

// EncodeCall builds [2, id, action, payload].
func EncodeCall(id, action string, payload any) ([]byte, error) {
	return json.Marshal([]any{MessageCall, id, action, payload})
}

// EncodeResult builds [3, id, payload].
func EncodeResult(id string, payload any) ([]byte, error) {
	return json.Marshal([]any{MessageResult, id, payload})
}

// EncodeError builds [4, id, code, description, details].
func EncodeError(id string, ce *CallError) []byte {
	details := ce.Details
	if len(details) == 0 {
		details = json.RawMessage("{}")
	}
	out, err := json.Marshal([]any{MessageError, id, ce.Code, ce.Description, details})
	if err != nil {
		// Only a malformed Details can fail here.
		out, _ = json.Marshal([]any{MessageError, id, ce.Code, ce.Description, struct{}{}})
	}
	return out
}

// Codec decodes payloads against the catalog and checks them with the
// validate tags of the matching struct.
type Codec struct {
	validate *validator.Validate
}

var (
	defaultCodec     *Codec
	defaultCodecOnce sync.Once
)

// NewCodec returns the shared codec; validator caches struct metadata, so
// one instance serves the whole process.
func NewCodec() *Codec {
	defaultCodecOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		defaultCodec = &Codec{validate: v}
	})
	return defaultCodec
}

// DecodeRequest decodes the payload of a Call for action.
func (c *Codec) DecodeRequest(action string, payload json.RawMessage) (any, error) {
	e, ok := Lookup(action)
	if !ok {
		return nil, newCallError(NotImplemented, "unknown action %q", action)
	}
	req := e.Request()
	if err := c.decodeInto(payload, req); err != nil {
		return nil, err
	}
	return req, nil
}

// DecodeResponse decodes the payload of a CallResult answering action.
func (c *Codec) DecodeResponse(action string, payload json.RawMessage) (any, error) {
	e, ok := Lookup(action)
	if !ok {
		return nil, newCallError(NotImplemented, "unknown action %q", action)
	}
	resp := e.Response()
	if err := c.decodeInto(payload, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Validate runs the struct tags on an outgoing payload.
func (c *Codec) Validate(v any) error {
	if err := c.validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

func (c *Codec) decodeInto(payload json.RawMessage, dst any) error {
	if len(payload) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		return newCallError(FormatViolation, "payload must be a JSON object")
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return newCallError(TypeConstraintViolation, "field %q: expected %s", typeErr.Field, typeErr.Type)
		}
		return newCallError(FormatViolation, "%v", err)
	}
	return c.Validate(dst)
}

func validationError(err error) *CallError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return newCallError(FormatViolation, "%v", err)
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), strings.SplitN(fe.Namespace(), ".", 2)[0]+".")
	if fe.Tag() == "required" {
		return newCallError(OccurrenceConstraintViolation, "field %q is required", field)
	}
	return newCallError(PropertyConstraintViolation, "field %q fails %q", field, fe.Tag())
}
