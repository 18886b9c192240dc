package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownEventType = errors.New("unknown event type")

type DecodeFunc func(data []byte) (Event, error)

// Registry maps event-type strings to payload decoders. The outbox stores
// payloads as raw JSON; the publisher needs the concrete type back to pull
// the domain event id out and to emit a canonical encoding.
type Registry struct {
	decoders map[string]DecodeFunc
}

// NewRegistry returns a registry with every event type this service emits.
func NewRegistry() *Registry {
	r := &Registry{decoders: map[string]DecodeFunc{}}
	r.Register(TypePaymentApproved, func(data []byte) (Event, error) {
		var e PaymentApproved
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	})
	r.Register(TypePaymentNotification, func(data []byte) (Event, error) {
		var e PaymentNotification
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	})
	return r
}

func (r *Registry) Register(eventType string, decode DecodeFunc) {
	r.decoders[eventType] = decode
}

func (r *Registry) Decode(eventType string, payload []byte) (Event, error) {
	decode, ok := r.decoders[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	return decode(payload)
}
