// Package dispatch routes inbound frames to the state synchronizer.
package dispatch

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/omochice/roomchat/internal/metrics"
	"github.com/omochice/roomchat/pkg/protocol"
)

// Applier receives decoded events.
type Applier interface {
	Apply(ev protocol.Event)
}

// Dispatcher splits frames, decodes each sub-frame and applies it.
type Dispatcher struct {
	applier Applier
	log     zerolog.Logger
}

// New creates a Dispatcher.
func New(applier Applier, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{applier: applier, log: log}
}

// Dispatch handles one raw transport frame. Every well-formed sub-frame is applied
// in order; malformed ones are logged, skipped and returned.
func (d *Dispatcher) Dispatch(frame []byte) []error {
	var errs []error
	for _, sub := range protocol.Split(frame) {
		ev, err := protocol.Decode(sub)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownAction) {
				d.log.Debug().Err(err).Msg("ignoring sub-frame")
				continue
			}
			metrics.DecodeErrors.Inc()
			d.log.Warn().Err(err).Bytes("frame", sub).Msg("skipping malformed sub-frame")
			errs = append(errs, err)
			continue
		}
		d.applier.Apply(ev)
	}
	return errs
}
