package capture

import (
	"context"
	"errors"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/smazurov/pwtexture/pkg/pipewire"
)

const busPollInterval = 50 * time.Millisecond

// watchBus follows the pipeline bus until ctx is cancelled, an error is
// posted or the stream ends. Terminal conditions are reported as stream
// state changes on the session loop.
func (s *Stream) watchBus(ctx context.Context) {
	bus := s.pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			s.logger.Error("Pipeline error", "error", gerr.Error(), "debug", gerr.DebugString())
			s.post(pipewire.StreamStateError, errors.New(gerr.Error()))
			return

		case gst.MessageEOS:
			s.logger.Info("Source ended the stream")
			s.post(pipewire.StreamStateUnconnected, nil)
			return

		case gst.MessageStateChanged:
			if msg.Source() == s.pipeline.GetName() {
				old, state := msg.ParseStateChanged()
				s.logger.Debug("Pipeline state changed", "from", old, "to", state)
				if state == gst.StatePaused && old == gst.StatePlaying {
					s.post(pipewire.StreamStatePaused, nil)
				}
			}
		}
	}
}

// post applies a state change on the loop goroutine unless the stream has
// been disconnected meanwhile.
func (s *Stream) post(state pipewire.StreamState, err error) {
	s.core.loop.Invoke(func() {
		if !s.closed.Load() {
			s.setState(state, err)
		}
	})
}
