// Package envelope implements the hub's wire codec: decoding inbound
// bytes into a tagged-variant frame, validating the closed set of
// recognized `type` values, and encoding outbound frames back to
// bytes. Category-specific fields are passed through opaque; this
// package never interprets a payload body, only the `type`/`subtype`
// discriminators and the addressing fields the router needs.
package envelope

import (
	"github.com/goccy/go-json"

	"github.com/fleetwire/relayhub/pkg/relerr"
)

// Type is the closed set of recognized `type` values.
type Type string

const (
	Ping             Type = "ping"
	Pong             Type = "pong"
	DevicesList      Type = "devices_list"
	ConnectDevice    Type = "connect_device"
	GetTelemetry     Type = "get_telemetry"
	DeviceConnected  Type = "device_connected"
	ConnectionStatus Type = "connection_status"
	Telemetry        Type = "telemetry"
	Command          Type = "command"
	CommandStatus    Type = "command_status"
	WebRTC           Type = "webrtc"
	ErrorType        Type = "error"
)

// Subtype is the closed set of `webrtc` subtypes.
type Subtype string

const (
	Offer        Subtype = "offer"
	Answer       Subtype = "answer"
	IceCandidate Subtype = "ice_candidate"
	Close        Subtype = "close"
	ErrorSubtype Subtype = "error"
)

// knownTypes is the sealed set checked at the codec boundary. Go has
// no sum types, so the sealed-enum intent is expressed as an unexported
// set plus a membership check, with the router holding the matching
// exhaustive switch over the same constants.
var knownTypes = map[Type]struct{}{
	Ping: {}, Pong: {}, DevicesList: {}, ConnectDevice: {}, GetTelemetry: {},
	DeviceConnected: {}, ConnectionStatus: {}, Telemetry: {}, Command: {},
	CommandStatus: {}, WebRTC: {}, ErrorType: {},
}

func IsKnown(t Type) bool { _, ok := knownTypes[t]; return ok }

// Envelope is a decoded on-wire message: a key/value object with a
// required `type` discriminator and otherwise-opaque fields. It is
// forwarded by value; callers that want to mutate only the addressing
// fields should Clone first.
type Envelope map[string]any

// Decode parses raw bytes into an Envelope, rejecting messages that
// fail to parse, lack `type`, or declare a `type` outside the closed
// set.
func Decode(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, relerr.New(relerr.Malformed, "invalid json: "+err.Error())
	}
	t, ok := e.Type()
	if !ok || t == "" {
		return nil, relerr.New(relerr.Malformed, "missing type")
	}
	if !IsKnown(Type(t)) {
		return nil, relerr.New(relerr.UnsupportedMessage, string(t))
	}
	return e, nil
}

// Encode renders an Envelope back to wire bytes.
func Encode(e Envelope) ([]byte, error) { return json.Marshal(e) }

func New(t Type) Envelope { return Envelope{"type": string(t)} }

func (e Envelope) Type() (Type, bool) {
	v, ok := e["type"].(string)
	return Type(v), ok
}

func (e Envelope) Subtype() (Subtype, bool) {
	v, ok := e["subtype"].(string)
	return Subtype(v), ok
}

// Kind reads an error envelope's kind field, falling back to the
// legacy `error` key so a peer still sending that name decodes the
// same way. Only `kind` is ever emitted.
func (e Envelope) Kind() (string, bool) {
	if v, ok := e.Str("kind"); ok {
		return v, true
	}
	return e.Str("error")
}

func (e Envelope) WithSubtype(s Subtype) Envelope { e["subtype"] = string(s); return e }

// Str reads a string field, reporting whether it was present and
// non-empty — used for required-field validation (missing required
// fields yield a `malformed` reply).
func (e Envelope) Str(key string) (string, bool) {
	v, ok := e[key].(string)
	return v, ok && v != ""
}

func (e Envelope) Set(key string, v any) Envelope { e[key] = v; return e }

func (e Envelope) Delete(key string) Envelope { delete(e, key); return e }

// Clone makes a shallow copy so that addressing-field rewrites on a
// forwarded frame never mutate the sender's original envelope.
func (e Envelope) Clone() Envelope {
	c := make(Envelope, len(e))
	for k, v := range e {
		c[k] = v
	}
	return c
}

// ErrorEnvelope builds a standalone `error` reply carrying kind and an
// optional message.
func ErrorEnvelope(kind relerr.Kind, message string) Envelope {
	e := New(ErrorType).Set("kind", string(kind))
	if message != "" {
		e.Set("message", message)
	}
	return e
}
