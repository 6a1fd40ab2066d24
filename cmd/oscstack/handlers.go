package main

import (
	"log/slog"

	"github.com/banshee-data/oscstack/internal/dispatch"
	"github.com/banshee-data/oscstack/internal/osc"
	"github.com/banshee-data/oscstack/internal/tagged"
)

// queueTag is funneled: each packet in a "queue" bundle is dispatched as if
// it had arrived on its own.
const queueTag = "queue"

// recordRequestTag marks bundles asking for a non-realtime render.
const recordRequestTag = "nrt_record_request"

// registerHandlers installs the handlers the CLI runs with. They log what
// they receive so a sender can be checked against the stack.
func registerHandlers(stack *dispatch.Stack, log *slog.Logger) error {
	log = log.With("component", "handlers")

	if err := stack.OnMessage("/s_new", dispatch.MessageHandlerFunc(func(m osc.Message) {
		synth, err := m.StringAt(0, "synth")
		if err != nil {
			log.Warn("bad /s_new", "error", err)
			return
		}
		node, err := m.IntAt(1, "node id")
		if err != nil {
			log.Warn("bad /s_new", "error", err)
			return
		}
		params, err := m.NamedParams(2)
		if err != nil {
			log.Warn("bad /s_new controls", "error", err)
			return
		}
		log.Info("synth created", "synth", synth, "node", node, "controls", paramAttrs(params))
	})); err != nil {
		return err
	}

	if err := stack.OnMessage("/n_set", dispatch.MessageHandlerFunc(func(m osc.Message) {
		node, err := m.IntAt(0, "node id")
		if err != nil {
			log.Warn("bad /n_set", "error", err)
			return
		}
		params, err := m.NamedParams(1)
		if err != nil {
			log.Warn("bad /n_set controls", "error", err)
			return
		}
		log.Info("node controls set", "node", node, "controls", paramAttrs(params))
	})); err != nil {
		return err
	}

	if err := stack.Funnel(queueTag); err != nil {
		return err
	}

	if err := stack.OnTimed(dispatch.TimedHandlerFunc(func(p tagged.TimedPacket) {
		log.Info("timed packet", "time", p.Time.String(), "packet", osc.Describe(p.Packet))
	})); err != nil {
		return err
	}

	return stack.OnTaggedBundle(recordRequestTag, dispatch.BundleHandlerFunc(func(b tagged.Bundle) {
		log.Info("record request", "packets", b.Len())
	}))
}

func paramAttrs(params []osc.NamedParam) map[string]float32 {
	out := make(map[string]float32, len(params))
	for _, p := range params {
		out[p.Key] = p.Value
	}
	return out
}
