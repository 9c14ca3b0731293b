package pipewire

import (
	"errors"
	"log/slog"
	"net"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/smazurov/pwtexture/pkg/spa"
)

type testPeer struct {
	t    *testing.T
	nc   net.Conn
	msgs chan message
}

func newTestConn(t *testing.T) (*Conn, *Loop, *testPeer) {
	t.Helper()
	client, server := net.Pipe()
	loop := NewLoop()
	c := NewConn(client, loop, slog.New(slog.DiscardHandler))

	p := &testPeer{t: t, nc: server, msgs: make(chan message, 16)}
	go func() {
		defer close(p.msgs)
		for {
			m, err := readMessage(server)
			if err != nil {
				return
			}
			p.msgs <- m
		}
	}()
	t.Cleanup(func() {
		c.Close()
		server.Close()
	})
	return c, loop, p
}

func (p *testPeer) expect() (message, spa.Struct) {
	p.t.Helper()
	select {
	case m, ok := <-p.msgs:
		if !ok {
			p.t.Fatal("peer connection closed")
		}
		args, err := m.args()
		if err != nil {
			p.t.Fatalf("decode message: %v", err)
		}
		return m, args
	case <-time.After(2 * time.Second):
		p.t.Fatal("timed out waiting for message")
	}
	return message{}, nil
}

func (p *testPeer) sendRaw(id uint32, opcode uint8, payload []byte) {
	p.t.Helper()
	b, err := appendMessage(nil, message{id: id, opcode: opcode, payload: payload})
	if err != nil {
		p.t.Fatalf("encode: %v", err)
	}
	if _, err := p.nc.Write(b); err != nil {
		p.t.Fatalf("write: %v", err)
	}
}

func (p *testPeer) send(id uint32, opcode uint8, args spa.Struct) {
	p.t.Helper()
	p.sendRaw(id, opcode, spa.MustMarshal(args))
}

func iterateUntil(t *testing.T, loop *Loop, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		loop.Iterate(10 * time.Millisecond)
	}
}

func TestConnHandshake(t *testing.T) {
	c, _, p := newTestConn(t)

	if err := c.Hello(); err != nil {
		t.Fatalf("Hello() error = %v", err)
	}
	m, args := p.expect()
	if m.id != coreID || m.opcode != coreMethodHello {
		t.Errorf("hello sent to %d/%d", m.id, m.opcode)
	}
	if !reflect.DeepEqual(args, spa.Struct{spa.Int(3)}) {
		t.Errorf("hello args = %v", args)
	}

	if err := c.UpdateProperties(Properties{KeyApplicationName: "pwtexture"}); err != nil {
		t.Fatalf("UpdateProperties() error = %v", err)
	}
	m, args = p.expect()
	if m.id != clientID || m.opcode != clientMethodUpdateProp {
		t.Errorf("update_properties sent to %d/%d", m.id, m.opcode)
	}
	want := spa.Struct{spa.Struct{spa.Int(1), spa.String("application.name"), spa.String("pwtexture")}}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("update_properties args = %v, want %v", args, want)
	}
	if m.seq != 1 {
		t.Errorf("second message seq = %d, want 1", m.seq)
	}
}

func TestConnSyncRoundTrip(t *testing.T) {
	c, loop, p := newTestConn(t)

	done := false
	if err := c.Sync(func() { done = true }); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	m, args := p.expect()
	if m.opcode != coreMethodSync {
		t.Fatalf("opcode = %d, want sync", m.opcode)
	}
	seq, _ := argInt(args, 1)

	p.send(coreID, coreEventDone, spa.Struct{spa.Int(0), spa.Int(seq + 100)})
	p.send(coreID, coreEventDone, spa.Struct{spa.Int(0), spa.Int(seq)})
	iterateUntil(t, loop, func() bool { return done })
}

func TestConnAnswersPing(t *testing.T) {
	_, loop, p := newTestConn(t)

	p.send(coreID, coreEventPing, spa.Struct{spa.Int(0), spa.Int(7)})

	var pong message
	iterateUntil(t, loop, func() bool {
		select {
		case m := <-p.msgs:
			pong = m
			return true
		default:
			return false
		}
	})
	if pong.opcode != coreMethodPong {
		t.Fatalf("opcode = %d, want pong", pong.opcode)
	}
	args, err := pong.args()
	if err != nil {
		t.Fatalf("decode pong: %v", err)
	}
	if !reflect.DeepEqual(args, spa.Struct{spa.Int(0), spa.Int(7)}) {
		t.Errorf("pong args = %v", args)
	}
}

func TestConnRegistryGlobals(t *testing.T) {
	c, loop, p := newTestConn(t)

	var globals []GlobalObject
	var removed []uint32
	reg, err := c.GetRegistry(RegistryEvents{
		Global:       func(g GlobalObject) { globals = append(globals, g) },
		GlobalRemove: func(id uint32) { removed = append(removed, id) },
	})
	if err != nil {
		t.Fatalf("GetRegistry() error = %v", err)
	}
	m, args := p.expect()
	if m.opcode != coreMethodGetRegistry {
		t.Fatalf("opcode = %d, want get_registry", m.opcode)
	}
	if !reflect.DeepEqual(args, spa.Struct{spa.Int(3), spa.Int(int32(reg.ID))}) {
		t.Errorf("get_registry args = %v", args)
	}

	global := spa.MustMarshal(spa.Struct{
		spa.Int(42), spa.Int(0x1c8), spa.String(TypeInterfaceNode), spa.Int(3),
		spa.Struct{spa.Int(2),
			spa.String(KeyMediaClass), spa.String(MediaClassVideoSource),
			spa.String(KeyNodeName), spa.String("v4l2_input.usb"),
		},
	})
	footer := spa.MustMarshal(spa.Struct{spa.Id(0)})
	p.sendRaw(reg.ID, registryEventGlobal, append(append([]byte{}, global...), footer...))
	p.send(reg.ID, registryEventGlobalRemove, spa.Struct{spa.Int(42)})

	iterateUntil(t, loop, func() bool { return len(removed) == 1 })

	want := GlobalObject{
		ID:          42,
		Permissions: 0x1c8,
		Type:        TypeInterfaceNode,
		Version:     3,
		Props: Properties{
			KeyMediaClass: MediaClassVideoSource,
			KeyNodeName:   "v4l2_input.usb",
		},
	}
	if len(globals) != 1 || !reflect.DeepEqual(globals[0], want) {
		t.Errorf("globals = %+v, want [%+v]", globals, want)
	}
	if removed[0] != 42 {
		t.Errorf("removed = %v", removed)
	}
}

func TestConnErrorEvent(t *testing.T) {
	c, loop, p := newTestConn(t)

	var got *CoreError
	c.OnError(func(e *CoreError) { got = e })
	p.send(coreID, coreEventError, spa.Struct{spa.Int(5), spa.Int(2), spa.Int(-2), spa.String("no such node")})

	iterateUntil(t, loop, func() bool { return got != nil })
	if got.ID != 5 || got.Res != -2 || got.Message != "no such node" {
		t.Errorf("error = %+v", got)
	}
}

func TestConnCoreErrorEndsConnection(t *testing.T) {
	c, loop, p := newTestConn(t)

	var got *CoreError
	c.OnError(func(e *CoreError) { got = e })
	p.send(coreID, coreEventError, spa.Struct{spa.Int(coreID), spa.Int(0), spa.Int(-32), spa.String("connection error")})

	iterateUntil(t, loop, func() bool { return got != nil })
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection stayed open after a core error")
	}
	var ce *CoreError
	if !errors.As(c.Err(), &ce) || ce.ID != coreID || ce.Res != -32 {
		t.Errorf("Err() = %v, want the core error", c.Err())
	}
}

func TestConnClose(t *testing.T) {
	c, _, _ := newTestConn(t)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop")
	}
	if !errors.Is(c.Err(), ErrClosed) {
		t.Errorf("Err() = %v, want ErrClosed", c.Err())
	}
	if err := c.Hello(); !errors.Is(err, ErrClosed) {
		t.Errorf("Hello() after Close = %v, want ErrClosed", err)
	}
}

func TestSocketPath(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		env     map[string]string
		want    string
		wantErr error
	}{
		{
			name:   "pipewire runtime dir wins",
			remote: "",
			env:    map[string]string{"PIPEWIRE_RUNTIME_DIR": "/run/pw", "XDG_RUNTIME_DIR": "/run/user/1000"},
			want:   filepath.Join("/run/pw", DefaultRemote),
		},
		{
			name:   "xdg fallback",
			remote: "custom-0",
			env:    map[string]string{"XDG_RUNTIME_DIR": "/run/user/1000"},
			want:   "/run/user/1000/custom-0",
		},
		{
			name:   "remote from environment",
			remote: "",
			env:    map[string]string{"XDG_RUNTIME_DIR": "/run/user/1000", "PIPEWIRE_REMOTE": "pipewire-1"},
			want:   "/run/user/1000/pipewire-1",
		},
		{
			name:   "absolute remote",
			remote: "/tmp/pw.sock",
			want:   "/tmp/pw.sock",
		},
		{
			name:    "no runtime dir",
			remote:  "",
			wantErr: ErrNoRuntimeDir,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"PIPEWIRE_RUNTIME_DIR", "XDG_RUNTIME_DIR", "PIPEWIRE_REMOTE"} {
				t.Setenv(k, tt.env[k])
			}
			got, err := SocketPath(tt.remote)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SocketPath() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SocketPath() = %q, want %q", got, tt.want)
			}
		})
	}
}
