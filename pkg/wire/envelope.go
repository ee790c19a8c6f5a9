// Package wire implements the binary signaling envelope exchanged between
// clients and the server: a msgpack-encoded {event, data} pair, with response
// payloads wrapped as {status, data} or {status, errors} and echoed under the
// originating event name.
package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Request/response event names. Responses are always echoed under the event
// that triggered them, which is what request correlation keys on.
const (
	EventCreateRoom         = "create-room"
	EventJoin               = "join"
	EventGetRoom            = "get-room"
	EventGetRtpCapabilities = "get-rtp-capabilities"
	EventCreateRtcTransport = "create-rtc-transport"
	EventConnectTransport   = "connect-transport"
	EventProduce            = "produce"
	EventConsume            = "consume"
	EventGetProducers       = "get-producers"
	EventDisconnect         = "disconnect"

	// EventProducerClosed contains a Cyrillic "с". Deployed clients transmit
	// the name byte-for-byte like this, so it stays.
	EventProducerClosed = "producer-сlosed"
)

// Server push events with no originating request.
const (
	EventNewProducers   = "new-producers"
	EventConsumerClosed = "consumer-closed"
)

// Envelope is the decoded inbound frame. Data stays raw so the handler picked
// by Event can decode it into its own request type.
type Envelope struct {
	Event string             `msgpack:"event"`
	Data  msgpack.RawMessage `msgpack:"data,omitempty"`
}

// Decode parses a wire frame into an Envelope.
func Decode(p []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(p, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event")
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e Envelope) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := msgpack.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	return nil
}

// FieldError is the structured arm of a response's errors field.
type FieldError struct {
	Key    string   `msgpack:"key" json:"key"`
	Values []string `msgpack:"values" json:"values"`
}

// Response is the decoded {status, data|errors} wrapper carried inside a
// response envelope.
type Response struct {
	Status bool               `msgpack:"status"`
	Data   msgpack.RawMessage `msgpack:"data,omitempty"`
	Errors msgpack.RawMessage `msgpack:"errors,omitempty"`
}

// DecodeData unmarshals the success payload into v.
func (r Response) DecodeData(v interface{}) error {
	if len(r.Data) == 0 {
		return nil
	}
	if err := msgpack.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// ErrorMessage renders the errors field, which is either a plain string or a
// list of field errors, into one human-readable message.
func (r Response) ErrorMessage() string {
	if len(r.Errors) == 0 {
		return ""
	}
	var s string
	if err := msgpack.Unmarshal(r.Errors, &s); err == nil {
		return s
	}
	var fields []FieldError
	if err := msgpack.Unmarshal(r.Errors, &fields); err == nil {
		msg := ""
		for i, f := range fields {
			if i > 0 {
				msg += "; "
			}
			msg += f.Key
			for _, v := range f.Values {
				msg += ": " + v
			}
		}
		return msg
	}
	return "malformed errors payload"
}

// DecodeResponse parses the response wrapper out of an envelope.
func (e Envelope) DecodeResponse() (Response, error) {
	var r Response
	if len(e.Data) == 0 {
		return r, nil
	}
	if err := msgpack.Unmarshal(e.Data, &r); err != nil {
		return Response{}, fmt.Errorf("decode %s response: %w", e.Event, err)
	}
	return r, nil
}

type outEnvelope struct {
	Event string      `msgpack:"event"`
	Data  interface{} `msgpack:"data,omitempty"`
}

type outResponse struct {
	Status bool        `msgpack:"status"`
	Data   interface{} `msgpack:"data,omitempty"`
	Errors interface{} `msgpack:"errors,omitempty"`
}

// EncodeRequest builds a client-to-server frame: a bare {event, data} pair.
func EncodeRequest(event string, data interface{}) ([]byte, error) {
	p, err := msgpack.Marshal(outEnvelope{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", event, err)
	}
	return p, nil
}

// EncodeResult builds a server frame carrying a success response under event.
func EncodeResult(event string, data interface{}) ([]byte, error) {
	p, err := msgpack.Marshal(outEnvelope{
		Event: event,
		Data:  outResponse{Status: true, Data: data},
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", event, err)
	}
	return p, nil
}

// EncodeError builds a server frame carrying a failure response under event.
// errs must be a string or a []FieldError.
func EncodeError(event string, errs interface{}) ([]byte, error) {
	p, err := msgpack.Marshal(outEnvelope{
		Event: event,
		Data:  outResponse{Status: false, Errors: errs},
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s error: %w", event, err)
	}
	return p, nil
}
