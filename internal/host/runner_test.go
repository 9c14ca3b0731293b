package host

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/smazurov/pwtexture/internal/directory"
	"github.com/smazurov/pwtexture/internal/relay"
)

type nopTexture struct{ frames int }

func (*nopTexture) SetImageParameters(relay.ImageParameters) {}
func (t *nopTexture) UpdateFrame(relay.FrameBuffer)          { t.frames++ }

func newTestRunner(queue int) (*Runner, *relay.FrameChannel, *relay.ControlChannel) {
	frames := relay.NewFrameChannel(16, 0)
	control := relay.NewControlChannel()
	logger := slog.New(slog.DiscardHandler)
	dir := directory.New(directory.Config{Frames: frames, Control: control, Logger: logger})
	return NewRunner(Config{Directory: dir, FPS: 200, TaskQueue: queue, Logger: logger}), frames, control
}

func TestFrameRunsTasksThenPolls(t *testing.T) {
	r, frames, control := newTestRunner(4)
	tex := &nopTexture{}

	if err := r.Do(func(d *directory.Directory) {
		if err := d.Connect(d.Register(tex), 3); err != nil {
			t.Errorf("Connect() error = %v", err)
		}
	}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	frames.Send(relay.FrameReady{ID: 3, Frame: relay.FrameBuffer{Data: []byte{1}}})

	r.Frame()

	if tex.frames != 1 {
		t.Errorf("texture frames = %d, want 1", tex.frames)
	}
	if control.Len() != 1 {
		t.Errorf("control commands = %d, want 1", control.Len())
	}
	if r.Frames() != 1 || r.Events() != 1 {
		t.Errorf("Frames() = %d, Events() = %d", r.Frames(), r.Events())
	}
}

func TestDoQueueFull(t *testing.T) {
	r, _, _ := newTestRunner(1)
	if err := r.Do(func(*directory.Directory) {}); err != nil {
		t.Fatalf("first Do() error = %v", err)
	}
	if err := r.Do(func(*directory.Directory) {}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second Do() error = %v, want ErrQueueFull", err)
	}
}

func TestNestedTaskWaitsForNextFrame(t *testing.T) {
	r, _, _ := newTestRunner(4)
	ran := 0
	_ = r.Do(func(*directory.Directory) {
		ran++
		_ = r.Do(func(*directory.Directory) { ran++ })
	})

	r.Frame()
	if ran != 1 {
		t.Fatalf("after first frame ran = %d, want 1", ran)
	}
	r.Frame()
	if ran != 2 {
		t.Errorf("after second frame ran = %d, want 2", ran)
	}
}

func TestCallAndStop(t *testing.T) {
	r, _, _ := newTestRunner(4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	var sources []uint32
	err := r.Call(context.Background(), func(d *directory.Directory) error {
		sources = d.EnumerateSources()
		return nil
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(sources) != 0 {
		t.Errorf("sources = %v", sources)
	}

	want := errors.New("boom")
	if err := r.Call(context.Background(), func(*directory.Directory) error { return want }); !errors.Is(err, want) {
		t.Errorf("Call() error = %v, want %v", err, want)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
	}

	if err := r.Call(context.Background(), func(*directory.Directory) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("Call() after stop error = %v, want ErrStopped", err)
	}
	if err := r.Do(func(*directory.Directory) {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Do() after stop error = %v, want ErrStopped", err)
	}
}

func TestCallContextCancelled(t *testing.T) {
	r, _, _ := newTestRunner(4)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// nothing runs frames, so the call can only end through ctx
	err := r.Call(ctx, func(*directory.Directory) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call() error = %v, want DeadlineExceeded", err)
	}
}
