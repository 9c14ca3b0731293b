package directory

import (
	"errors"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/smazurov/pwtexture/internal/events"
	"github.com/smazurov/pwtexture/internal/relay"
	"github.com/smazurov/pwtexture/pkg/spa"
)

type fakeTexture struct {
	params []relay.ImageParameters
	frames [][]byte
}

func (f *fakeTexture) SetImageParameters(p relay.ImageParameters) { f.params = append(f.params, p) }
func (f *fakeTexture) UpdateFrame(b relay.FrameBuffer)            { f.frames = append(f.frames, b.Data) }

func newTestDirectory() (*Directory, *relay.FrameChannel, *relay.ControlChannel) {
	frames := relay.NewFrameChannel(64, 0)
	control := relay.NewControlChannel()
	d := New(Config{Frames: frames, Control: control, Logger: slog.New(slog.DiscardHandler)})
	return d, frames, control
}

var rgba720 = relay.ImageParameters{Width: 1280, Height: 720, Format: relay.PixelFormatRGBA8, Source: spa.VideoFormatRGBA}

func TestConnectTwiceCreatesOneStream(t *testing.T) {
	d, _, control := newTestDirectory()
	h := d.Register(&fakeTexture{})

	for range 2 {
		if err := d.Connect(h, 57); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
	}

	want := []relay.ControlCommand{relay.CreateStream{ID: 57}}
	if got := control.Drain(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %#v, want %#v", got, want)
	}
	if d.Bindings(57) != 1 {
		t.Errorf("Bindings() = %d, want 1", d.Bindings(57))
	}
}

func TestLastDisconnectDeletesOnce(t *testing.T) {
	d, _, control := newTestDirectory()
	a := d.Register(&fakeTexture{})
	b := d.Register(&fakeTexture{})

	_ = d.Connect(a, 7)
	_ = d.Connect(b, 7)
	_ = d.Disconnect(a, 7)
	_ = d.Disconnect(a, 7)
	if got := control.Drain(); !reflect.DeepEqual(got, []relay.ControlCommand{relay.CreateStream{ID: 7}}) {
		t.Fatalf("commands before last disconnect = %#v", got)
	}

	_ = d.Disconnect(b, 7)
	_ = d.Disconnect(b, 7)
	if got := control.Drain(); !reflect.DeepEqual(got, []relay.ControlCommand{relay.DeleteStream{ID: 7}}) {
		t.Errorf("commands after last disconnect = %#v", got)
	}
}

func TestConnectElsewhereMovesBinding(t *testing.T) {
	d, _, control := newTestDirectory()
	h := d.Register(&fakeTexture{})

	_ = d.Connect(h, 1)
	_ = d.Connect(h, 2)

	want := []relay.ControlCommand{
		relay.CreateStream{ID: 1},
		relay.DeleteStream{ID: 1},
		relay.CreateStream{ID: 2},
	}
	if got := control.Drain(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %#v, want %#v", got, want)
	}
}

func TestDisconnectWrongSourceIsNoop(t *testing.T) {
	d, _, control := newTestDirectory()
	h := d.Register(&fakeTexture{})
	_ = d.Connect(h, 1)
	control.Drain()

	if err := d.Disconnect(h, 2); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if control.Len() != 0 || d.Bindings(1) != 1 {
		t.Error("Disconnect of another source changed the binding")
	}
}

func TestUnknownAndStaleHandles(t *testing.T) {
	d, _, control := newTestDirectory()
	h := d.Register(&fakeTexture{})
	_ = d.Connect(h, 3)

	if err := d.Unregister(h); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	want := []relay.ControlCommand{relay.CreateStream{ID: 3}, relay.DeleteStream{ID: 3}}
	if got := control.Drain(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %#v, want %#v", got, want)
	}

	reused := d.Register(&fakeTexture{})
	if reused == h {
		t.Fatal("reused slot returned the stale handle")
	}
	if reused.index() != h.index() {
		t.Errorf("slot not reused: %s vs %s", reused, h)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"connect", func() error { return d.Connect(h, 1) }},
		{"disconnect", func() error { return d.Disconnect(h, 1) }},
		{"unregister", func() error { return d.Unregister(h) }},
		{"out of range", func() error { return d.Connect(makeHandle(99, 1), 1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrUnknownTexture) {
				t.Errorf("error = %v, want ErrUnknownTexture", err)
			}
		})
	}
	if _, ok := d.Lookup(h); ok {
		t.Error("Lookup() found a stale handle")
	}
}

func TestPollDispatchesInOrder(t *testing.T) {
	d, frames, _ := newTestDirectory()
	texA, texB := &fakeTexture{}, &fakeTexture{}
	_ = d.Connect(d.Register(texA), 1)
	_ = d.Connect(d.Register(texB), 2)

	frames.Send(relay.FormatChanged{ID: 1, Params: rgba720})
	frames.Send(relay.FrameReady{ID: 1, Frame: relay.FrameBuffer{Data: []byte("A1")}})
	frames.Send(relay.FrameReady{ID: 2, Frame: relay.FrameBuffer{Data: []byte("B1")}})
	frames.Send(relay.FrameReady{ID: 1, Frame: relay.FrameBuffer{Data: []byte("A2")}})

	if n := d.Poll(time.Second); n != 4 {
		t.Fatalf("Poll() = %d, want 4", n)
	}
	if !reflect.DeepEqual(texA.params, []relay.ImageParameters{rgba720}) {
		t.Errorf("texture A params = %+v", texA.params)
	}
	if got := toStrings(texA.frames); !reflect.DeepEqual(got, []string{"A1", "A2"}) {
		t.Errorf("texture A frames = %v", got)
	}
	if got := toStrings(texB.frames); !reflect.DeepEqual(got, []string{"B1"}) {
		t.Errorf("texture B frames = %v", got)
	}
}

func TestPollDropsUnbound(t *testing.T) {
	d, frames, _ := newTestDirectory()
	tex := &fakeTexture{}
	_ = d.Connect(d.Register(tex), 1)

	frames.Send(relay.FormatChanged{ID: 9, Params: rgba720})
	frames.Send(relay.FrameReady{ID: 9, Frame: relay.FrameBuffer{Data: []byte{1}}})

	if n := d.Poll(time.Second); n != 2 {
		t.Fatalf("Poll() = %d, want 2", n)
	}
	if len(tex.params) != 0 || len(tex.frames) != 0 {
		t.Error("events for an unbound source reached a texture")
	}
}

func TestPollRespectsBudget(t *testing.T) {
	d, frames, _ := newTestDirectory()
	for i := range 3 {
		frames.Send(relay.SourceRemoved{ID: uint32(i)})
	}
	if n := d.Poll(time.Nanosecond); n != 1 {
		t.Errorf("Poll(1ns) = %d, want 1", n)
	}
	if frames.Len() != 2 {
		t.Errorf("queued after poll = %d, want 2", frames.Len())
	}
	if n := d.Poll(0); n != 2 {
		t.Errorf("Poll(default) = %d, want 2", n)
	}
}

func TestConnectReplaysParameters(t *testing.T) {
	d, frames, _ := newTestDirectory()
	first := &fakeTexture{}
	_ = d.Connect(d.Register(first), 4)
	frames.Send(relay.FormatChanged{ID: 4, Params: rgba720})
	d.Poll(time.Second)

	second := &fakeTexture{}
	_ = d.Connect(d.Register(second), 4)
	if !reflect.DeepEqual(second.params, []relay.ImageParameters{rgba720}) {
		t.Errorf("replayed params = %+v", second.params)
	}

	st := d.Textures()
	if len(st) != 2 || !st[1].HasParams || st[1].Params != rgba720 || st[1].SourceID != 4 {
		t.Errorf("Textures() = %+v", st)
	}
}

func TestFrameFanOutCopies(t *testing.T) {
	d, frames, _ := newTestDirectory()
	a, b := &fakeTexture{}, &fakeTexture{}
	_ = d.Connect(d.Register(a), 5)
	_ = d.Connect(d.Register(b), 5)

	frames.Send(relay.FrameReady{ID: 5, Frame: relay.FrameBuffer{Data: []byte{1, 2, 3}}})
	d.Poll(time.Second)

	if len(a.frames) != 1 || len(b.frames) != 1 {
		t.Fatalf("frames = %d, %d", len(a.frames), len(b.frames))
	}
	a.frames[0][0] = 42
	if b.frames[0][0] != 1 {
		t.Error("textures share frame storage")
	}
}

func TestSourceDirectory(t *testing.T) {
	d, frames, _ := newTestDirectory()
	bus := events.New()
	d.bus = bus
	added := make(chan events.SourceAddedEvent, 4)
	unsub := bus.Subscribe(func(e events.SourceAddedEvent) { added <- e })
	defer unsub()

	frames.Send(relay.SourceAppeared{Source: relay.SourceInfo{ID: 70, Name: "b"}})
	frames.Send(relay.SourceAppeared{Source: relay.SourceInfo{ID: 12, Name: "a"}})
	frames.Send(relay.SourceAppeared{Source: relay.SourceInfo{ID: 40, Name: "c"}})
	frames.Send(relay.SourceRemoved{ID: 40})
	d.Poll(time.Second)

	if got := d.EnumerateSources(); !reflect.DeepEqual(got, []uint32{12, 70}) {
		t.Errorf("EnumerateSources() = %v", got)
	}
	sources := d.Sources()
	if len(sources) != 2 || sources[0].Name != "a" {
		t.Errorf("Sources() = %+v", sources)
	}
	if _, ok := d.Source(40); ok {
		t.Error("removed source still known")
	}
	for i := range 3 {
		select {
		case <-added:
		case <-time.After(time.Second):
			t.Fatalf("received %d SourceAddedEvents, want 3", i)
		}
	}
}

func toStrings(frames [][]byte) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = string(f)
	}
	return out
}
