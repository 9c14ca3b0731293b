package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/smazurov/pwtexture/internal/capture/gstcaps"
	"github.com/smazurov/pwtexture/pkg/pipewire"
	"github.com/smazurov/pwtexture/pkg/spa"
)

// Stream is a pipewire.Stream realised as a GStreamer pipeline.
type Stream struct {
	core   *Core
	name   string
	props  pipewire.Properties
	events pipewire.StreamEvents
	logger *slog.Logger

	pipeline *gst.Pipeline
	sink     *app.Sink
	sinkPad  *gst.Pad
	cancel   context.CancelFunc
	monitor  sync.WaitGroup

	// filled on the streaming thread
	mu     sync.Mutex
	ready  []*pipewire.Buffer
	free   []*pipewire.Buffer
	caps   string
	stride int32

	scheduled atomic.Bool
	closed    atomic.Bool

	// owned by the loop goroutine
	state      pipewire.StreamState
	negotiated string
}

func newStream(core *Core, name string, props pipewire.Properties, events pipewire.StreamEvents) *Stream {
	return &Stream{
		core:   core,
		name:   name,
		props:  props.Clone(),
		events: events,
		logger: core.logger.With("stream", name),
		state:  pipewire.StreamStateUnconnected,
	}
}

// Connect builds and starts the pipeline. The first param must be an
// EnumFormat object; it becomes the caps filter.
func (s *Stream) Connect(dir pipewire.Direction, target uint32, flags pipewire.StreamFlags, params ...spa.Pod) error {
	if dir != pipewire.DirectionInput {
		return ErrUnsupportedDirection
	}
	proposal := spa.DefaultVideoProposal()
	if len(params) > 0 {
		obj, err := params[0].Object()
		if err != nil {
			return fmt.Errorf("decode format proposal: %w", err)
		}
		if proposal, err = spa.ParseVideoProposal(obj); err != nil {
			return fmt.Errorf("decode format proposal: %w", err)
		}
	}
	capsStr := gstcaps.FromProposal(proposal)

	if err := s.buildPipeline(target, flags, capsStr); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.monitor.Add(1)
	go func() {
		defer s.monitor.Done()
		s.watchBus(ctx)
	}()

	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		s.stopPipeline()
		return fmt.Errorf("start pipeline: %w", err)
	}
	s.setState(pipewire.StreamStateConnecting, nil)
	s.logger.Debug("Pipeline started", "target", target, "caps", capsStr)
	return nil
}

func (s *Stream) buildPipeline(target uint32, flags pipewire.StreamFlags, capsStr string) error {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("pipewiresrc")
	if err != nil {
		return fmt.Errorf("failed to create pipewiresrc: %w", err)
	}
	if target != pipewire.IDAny {
		src.SetProperty("path", strconv.FormatUint(uint64(target), 10))
	}
	src.SetProperty("client-name", s.name)
	if flags.Has(pipewire.StreamFlagAutoConnect) {
		src.SetProperty("autoconnect", true)
	}
	if props := gst.NewStructureFromString(streamProperties(s.props)); props != nil {
		src.SetProperty("stream-properties", props)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", s.core.opts.MaxBuffers)
	appsink.SetProperty("drop", s.core.opts.Leaky)
	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := pipeline.AddMany(src, capsfilter, appsink.Element); err != nil {
		return fmt.Errorf("failed to add pipeline elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, capsfilter, appsink.Element); err != nil {
		return fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	s.pipeline = pipeline
	s.sink = appsink
	s.sinkPad = appsink.Element.GetStaticPad("sink")
	return nil
}

// streamProperties renders props as a GstStructure string.
func streamProperties(props pipewire.Properties) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("props")
	for _, k := range keys {
		fmt.Fprintf(&b, ", %s=(string)%s", k, strconv.Quote(props[k]))
	}
	return b.String()
}

// onNewSample runs on the GStreamer streaming thread.
func (s *Stream) onNewSample(sink *app.Sink) gst.FlowReturn {
	if s.closed.Load() {
		return gst.FlowOK
	}
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}

	var capsStr string
	if s.sinkPad != nil {
		if caps := s.sinkPad.GetCurrentCaps(); caps != nil {
			capsStr = caps.String()
		}
	}

	s.mu.Lock()
	if capsStr != "" && capsStr != s.caps {
		s.caps = capsStr
		if info, err := gstcaps.Parse(capsStr); err == nil {
			s.stride = gstcaps.Stride(info)
		}
	}
	b := s.takeFree(len(data))
	copy(b.Datas[0].Data, data)
	s.ready = append(s.ready, b)
	if over := len(s.ready) - s.core.opts.MaxBuffers; over > 0 {
		s.free = append(s.free, s.ready[:over]...)
		s.ready = append(s.ready[:0], s.ready[over:]...)
	}
	s.mu.Unlock()
	buffer.Unmap()

	if s.scheduled.CompareAndSwap(false, true) {
		if !s.core.loop.Invoke(s.dispatch) {
			s.scheduled.Store(false)
		}
	}
	return gst.FlowOK
}

// takeFree returns a pooled buffer sized for n bytes. Callers hold s.mu.
func (s *Stream) takeFree(n int) *pipewire.Buffer {
	var b *pipewire.Buffer
	if last := len(s.free) - 1; last >= 0 {
		b = s.free[last]
		s.free = s.free[:last]
	} else {
		b = &pipewire.Buffer{Datas: make([]pipewire.Data, 1)}
	}
	d := &b.Datas[0]
	if cap(d.Data) < n {
		d.Data = make([]byte, n)
	}
	d.Data = d.Data[:n]
	d.MaxSize = uint32(cap(d.Data))
	d.Chunk = pipewire.Chunk{Offset: 0, Size: uint32(n), Stride: s.stride}
	return b
}

// dispatch runs on the loop goroutine. It reports a changed format before
// delivering the buffers that carry it.
func (s *Stream) dispatch() {
	s.scheduled.Store(false)
	if s.closed.Load() {
		return
	}

	s.mu.Lock()
	caps := s.caps
	pending := len(s.ready)
	s.mu.Unlock()

	if caps != "" && caps != s.negotiated {
		s.negotiated = caps
		s.reportFormat(caps)
	}
	for i := 0; i < pending && !s.closed.Load(); i++ {
		if s.events.Process != nil {
			s.events.Process()
		}
	}
}

func (s *Stream) reportFormat(caps string) {
	info, err := gstcaps.Parse(caps)
	if err != nil {
		s.logger.Warn("Unparseable negotiated caps", "caps", caps, "error", err)
		return
	}
	pod, err := gstcaps.ToFormat(info)
	if err != nil {
		s.logger.Warn("Negotiated caps have no SPA format", "caps", caps, "error", err)
		return
	}
	s.logger.Debug("Caps negotiated", "caps", caps)
	if s.events.ParamChanged != nil {
		s.events.ParamChanged(spa.ParamFormat, pod)
	}
	s.setState(pipewire.StreamStateStreaming, nil)
}

func (s *Stream) setState(state pipewire.StreamState, err error) {
	if s.state == state && err == nil {
		return
	}
	old := s.state
	s.state = state
	if s.events.StateChanged != nil {
		s.events.StateChanged(old, state, err)
	}
}

// DequeueBuffer returns the oldest copied sample or nil.
func (s *Stream) DequeueBuffer() *pipewire.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 {
		return nil
	}
	b := s.ready[0]
	s.ready = s.ready[1:]
	return b
}

// QueueBuffer returns b to the pool.
func (s *Stream) QueueBuffer(b *pipewire.Buffer) {
	if b == nil {
		return
	}
	s.mu.Lock()
	s.free = append(s.free, b)
	s.mu.Unlock()
}

// Disconnect stops the pipeline and waits for the bus monitor to exit.
func (s *Stream) Disconnect() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.core.forget(s)
	if s.pipeline == nil {
		return nil
	}
	err := s.stopPipeline()
	s.state = pipewire.StreamStateUnconnected
	return err
}

func (s *Stream) stopPipeline() error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.pipeline.SetState(gst.StateNull)
	s.monitor.Wait()
	if err != nil {
		return fmt.Errorf("stop pipeline: %w", err)
	}
	return nil
}
