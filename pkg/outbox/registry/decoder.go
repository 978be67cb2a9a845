package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// DecodeFunc turns envelope data into a typed payload.
type DecodeFunc func(json.RawMessage) (any, error)

type schema struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry lets a consumer accept several payload versions of the same event.
type DecoderRegistry struct {
	mu    sync.RWMutex
	funcs map[schema]DecodeFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{funcs: map[schema]DecodeFunc{}}
}

func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, fn DecodeFunc) {
	r.mu.Lock()
	r.funcs[schema{eventType, version}] = fn
	r.mu.Unlock()
}

// Decode fails for any event type and version pair nobody registered.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, data json.RawMessage) (any, error) {
	r.mu.RLock()
	fn, ok := r.funcs[schema{eventType, version}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no decoder for %s v%d", eventType, version)
	}
	return fn(data)
}

// RegisterJSON registers a decoder that unmarshals into a T value.
func RegisterJSON[T any](r *DecoderRegistry, eventType enums.OutboxEventType, version int) {
	r.Register(eventType, version, func(data json.RawMessage) (any, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	})
}
