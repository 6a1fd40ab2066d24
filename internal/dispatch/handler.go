package dispatch

import (
	"github.com/banshee-data/oscstack/internal/osc"
	"github.com/banshee-data/oscstack/internal/tagged"
)

// MessageHandler is invoked for messages sent to the address it is
// registered under.
type MessageHandler interface {
	HandleMessage(m osc.Message)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(m osc.Message)

func (f MessageHandlerFunc) HandleMessage(m osc.Message) { f(m) }

// BundleHandler is invoked for tagged bundles whose tag it is registered
// under.
type BundleHandler interface {
	HandleBundle(b tagged.Bundle)
}

// BundleHandlerFunc adapts a function to BundleHandler.
type BundleHandlerFunc func(b tagged.Bundle)

func (f BundleHandlerFunc) HandleBundle(b tagged.Bundle) { f(b) }

// TimedHandler receives decoded timed packets.
type TimedHandler interface {
	HandleTimed(p tagged.TimedPacket)
}

// TimedHandlerFunc adapts a function to TimedHandler.
type TimedHandlerFunc func(p tagged.TimedPacket)

func (f TimedHandlerFunc) HandleTimed(p tagged.TimedPacket) { f(p) }
