package pipewire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/smazurov/pwtexture/pkg/spa"
)

// Well known proxy ids of the native protocol.
const (
	coreID   uint32 = 0
	clientID uint32 = 1
)

// ProtocolVersion is the core interface version sent in Hello.
const ProtocolVersion = coreVersion

// Protocol versions requested from the daemon.
const (
	coreVersion     = 3
	registryVersion = 3
)

// Core method opcodes.
const (
	coreMethodHello        uint8 = 1
	coreMethodSync         uint8 = 2
	coreMethodPong         uint8 = 3
	coreMethodGetRegistry  uint8 = 5
	clientMethodUpdateProp uint8 = 2
)

// Core event opcodes.
const (
	coreEventInfo     uint8 = 0
	coreEventDone     uint8 = 1
	coreEventPing     uint8 = 2
	coreEventError    uint8 = 3
	coreEventRemoveID uint8 = 4
)

// Registry event opcodes.
const (
	registryEventGlobal       uint8 = 0
	registryEventGlobalRemove uint8 = 1
)

const (
	messageHeaderSize = 16
	maxMessageSize    = 1<<24 - 1
)

// DefaultRemote is the socket name used when none is configured.
const DefaultRemote = "pipewire-0"

var (
	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("pipewire: connection closed")
	// ErrNoRuntimeDir is returned when neither PIPEWIRE_RUNTIME_DIR nor XDG_RUNTIME_DIR is set.
	ErrNoRuntimeDir = errors.New("pipewire: no runtime directory in environment")
	// ErrMessageTooLarge is returned for payloads that do not fit the 24-bit size field.
	ErrMessageTooLarge = errors.New("pipewire: message too large")
)

type message struct {
	id      uint32
	opcode  uint8
	seq     uint32
	nfds    uint32
	payload []byte
}

// args decodes the leading Struct of the payload. Anything after it is a footer.
func (m message) args() (spa.Struct, error) {
	v, _, err := spa.Unmarshal(m.payload)
	if err != nil {
		return nil, err
	}
	s, ok := v.(spa.Struct)
	if !ok {
		return nil, fmt.Errorf("%w: payload is %s", spa.ErrUnexpectedType, v.Type())
	}
	return s, nil
}

func appendMessage(b []byte, m message) ([]byte, error) {
	if len(m.payload) > maxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(m.payload))
	}
	b = binary.LittleEndian.AppendUint32(b, m.id)
	b = binary.LittleEndian.AppendUint32(b, uint32(m.opcode)<<24|uint32(len(m.payload)))
	b = binary.LittleEndian.AppendUint32(b, m.seq)
	b = binary.LittleEndian.AppendUint32(b, m.nfds)
	return append(b, m.payload...), nil
}

func readMessage(r io.Reader) (message, error) {
	var hdr [messageHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return message{}, err
	}
	word := binary.LittleEndian.Uint32(hdr[4:])
	m := message{
		id:     binary.LittleEndian.Uint32(hdr[0:]),
		opcode: uint8(word >> 24),
		seq:    binary.LittleEndian.Uint32(hdr[8:]),
		nfds:   binary.LittleEndian.Uint32(hdr[12:]),
	}
	m.payload = make([]byte, word&maxMessageSize)
	if _, err := io.ReadFull(r, m.payload); err != nil {
		return message{}, fmt.Errorf("read payload: %w", err)
	}
	return m, nil
}

// SocketPath resolves the daemon socket for remote. An absolute remote is used
// as is; an empty remote falls back to $PIPEWIRE_REMOTE and then DefaultRemote.
func SocketPath(remote string) (string, error) {
	if remote == "" {
		remote = os.Getenv("PIPEWIRE_REMOTE")
	}
	if remote == "" {
		remote = DefaultRemote
	}
	if filepath.IsAbs(remote) {
		return remote, nil
	}
	dir := os.Getenv("PIPEWIRE_RUNTIME_DIR")
	if dir == "" {
		dir = os.Getenv("XDG_RUNTIME_DIR")
	}
	if dir == "" {
		return "", ErrNoRuntimeDir
	}
	return filepath.Join(dir, remote), nil
}

func encodeDict(props Properties) spa.Struct {
	keys := props.Keys()
	dict := make(spa.Struct, 0, 1+2*len(keys))
	dict = append(dict, spa.Int(len(keys)))
	for _, k := range keys {
		dict = append(dict, spa.String(k), spa.String(props[k]))
	}
	return dict
}

func decodeDict(v spa.Value) (Properties, error) {
	s, ok := v.(spa.Struct)
	if !ok {
		return nil, fmt.Errorf("%w: dict is %s", spa.ErrUnexpectedType, v.Type())
	}
	if len(s) == 0 {
		return Properties{}, nil
	}
	n, ok := s[0].(spa.Int)
	if !ok || n < 0 || len(s) < 1+2*int(n) {
		return nil, fmt.Errorf("%w: malformed dict", spa.ErrUnexpectedType)
	}
	props := make(Properties, n)
	for i := 0; i < int(n); i++ {
		k, kok := s[1+2*i].(spa.String)
		if !kok {
			return nil, fmt.Errorf("%w: dict key", spa.ErrUnexpectedType)
		}
		// values may be None for unset keys
		if val, ok := s[2+2*i].(spa.String); ok {
			props[string(k)] = string(val)
		} else {
			props[string(k)] = ""
		}
	}
	return props, nil
}

func argInt(s spa.Struct, i int) (int32, error) {
	if i >= len(s) {
		return 0, fmt.Errorf("%w: missing argument %d", spa.ErrTruncated, i)
	}
	switch v := s[i].(type) {
	case spa.Int:
		return int32(v), nil
	case spa.Id:
		return int32(v), nil
	default:
		return 0, fmt.Errorf("%w: argument %d is %s", spa.ErrUnexpectedType, i, v.Type())
	}
}

func argString(s spa.Struct, i int) (string, error) {
	if i >= len(s) {
		return "", fmt.Errorf("%w: missing argument %d", spa.ErrTruncated, i)
	}
	switch v := s[i].(type) {
	case spa.String:
		return string(v), nil
	case spa.None:
		return "", nil
	default:
		return "", fmt.Errorf("%w: argument %d is %s", spa.ErrUnexpectedType, i, v.Type())
	}
}
