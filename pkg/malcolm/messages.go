package malcolm

import "github.com/opengda/scanning-go/pkg/wire"

// Endpoints subscribed by Device.
const (
	EndpointState          = "state"
	EndpointCompletedSteps = "completedSteps"
	EndpointBusy           = "busy"
	EndpointHealth         = "health"
	EndpointModel          = "model"
)

// MessageGenerator builds requests. Each message takes the next id of the
// generator's counter.
type MessageGenerator struct {
	ids *IDCounter
}

// NewMessageGenerator returns a generator drawing ids from ids, or from
// DefaultIDs when ids is nil.
func NewMessageGenerator(ids *IDCounter) *MessageGenerator {
	if ids == nil {
		ids = DefaultIDs
	}
	return &MessageGenerator{ids: ids}
}

// GetMessage reads endpoint.
func (g *MessageGenerator) GetMessage(endpoint string) *wire.Message {
	return &wire.Message{ID: g.ids.Next(), Type: wire.TypeGet, Endpoint: endpoint}
}

// CallMessage invokes method with args, which may be nil.
func (g *MessageGenerator) CallMessage(method wire.Method, args any) *wire.Message {
	return &wire.Message{ID: g.ids.Next(), Type: wire.TypeCall, Method: method, Arguments: args}
}

// SubscribeMessage asks for updates of endpoint. The updates carry the id
// of this message.
func (g *MessageGenerator) SubscribeMessage(endpoint string) *wire.Message {
	return &wire.Message{ID: g.ids.Next(), Type: wire.TypeSubscribe, Endpoint: endpoint}
}

// UnsubscribeMessage cancels the subscription made by the SUBSCRIBE with
// id subscription.
func (g *MessageGenerator) UnsubscribeMessage(subscription int64) *wire.Message {
	return &wire.Message{
		ID:        g.ids.Next(),
		Type:      wire.TypeUnsubscribe,
		Arguments: map[string]any{"subscription": subscription},
	}
}
