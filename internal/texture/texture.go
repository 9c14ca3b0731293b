// Package texture provides a headless consumer texture. It stores the most
// recent image parameters and frame of one source and can render the frame
// as a PNG for packed RGB layouts.
package texture

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"time"

	"github.com/smazurov/pwtexture/internal/relay"
	"github.com/smazurov/pwtexture/pkg/spa"
)

var (
	// ErrNoFrame is returned when no frame has been received yet.
	ErrNoFrame = errors.New("texture: no frame received")
	// ErrUnsupportedFormat is returned for planar, subsampled and unknown layouts.
	ErrUnsupportedFormat = errors.New("texture: unsupported pixel layout")
	// ErrShortFrame is returned when a frame holds fewer bytes than its parameters require.
	ErrShortFrame = errors.New("texture: frame shorter than image")
)

// ImageTexture is not safe for concurrent use. It belongs to the goroutine
// that polls the directory.
type ImageTexture struct {
	name    string
	params  relay.ImageParameters
	hasInfo bool
	data    []byte
	frames  uint64
	updated time.Time
}

// New creates an empty texture.
func New(name string) *ImageTexture {
	return &ImageTexture{name: name}
}

// Name returns the label given at creation.
func (t *ImageTexture) Name() string { return t.name }

// SetImageParameters replaces the image description. Frame storage is kept
// and reused by the next frame.
func (t *ImageTexture) SetImageParameters(p relay.ImageParameters) {
	t.params = p
	t.hasInfo = true
	t.data = t.data[:0]
}

// UpdateFrame copies the frame into the texture storage.
func (t *ImageTexture) UpdateFrame(f relay.FrameBuffer) {
	t.data = append(t.data[:0], f.Data...)
	t.frames++
	t.updated = time.Now()
}

// Params reports the current parameters and whether any were set.
func (t *ImageTexture) Params() (relay.ImageParameters, bool) {
	return t.params, t.hasInfo
}

// Frames counts received frames.
func (t *ImageTexture) Frames() uint64 { return t.frames }

// Updated returns the time of the last frame.
func (t *ImageTexture) Updated() time.Time { return t.updated }

// Snapshot is a detached copy of the texture contents.
type Snapshot struct {
	Params relay.ImageParameters
	Data   []byte
	Frame  uint64
	Taken  time.Time
}

// Snapshot copies the current frame.
func (t *ImageTexture) Snapshot() (Snapshot, error) {
	if !t.hasInfo || len(t.data) == 0 {
		return Snapshot{}, ErrNoFrame
	}
	data := make([]byte, len(t.data))
	copy(data, t.data)
	return Snapshot{Params: t.params, Data: data, Frame: t.frames, Taken: t.updated}, nil
}

// channel offsets within one pixel; a negative alpha means opaque
type layout struct {
	r, g, b, a int
}

var layouts = map[spa.VideoFormat]layout{
	spa.VideoFormatRGB:  {0, 1, 2, -1},
	spa.VideoFormatBGR:  {2, 1, 0, -1},
	spa.VideoFormatRGBA: {0, 1, 2, 3},
	spa.VideoFormatBGRA: {2, 1, 0, 3},
	spa.VideoFormatARGB: {1, 2, 3, 0},
	spa.VideoFormatABGR: {3, 2, 1, 0},
	spa.VideoFormatRGBx: {0, 1, 2, -1},
	spa.VideoFormatBGRx: {2, 1, 0, -1},
	spa.VideoFormatxRGB: {1, 2, 3, -1},
	spa.VideoFormatxBGR: {3, 2, 1, -1},
}

// Image converts the snapshot to an NRGBA image.
func (s Snapshot) Image() (*image.NRGBA, error) {
	l, ok := layouts[s.Params.Source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, s.Params.Source)
	}
	w, h := int(s.Params.Width), int(s.Params.Height)
	bpp := s.Params.Source.BytesPerPixel()
	stride := w * bpp
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrShortFrame, w, h)
	}
	if len(s.Data) < stride*h {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrShortFrame, len(s.Data), stride*h)
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := s.Data[y*stride : (y+1)*stride]
		dst := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			p := src[x*bpp : x*bpp+bpp]
			o := dst[x*4 : x*4+4]
			o[0], o[1], o[2] = p[l.r], p[l.g], p[l.b]
			if l.a < 0 {
				o[3] = 0xff
			} else {
				o[3] = p[l.a]
			}
		}
	}
	return img, nil
}

// EncodePNG writes the snapshot as a PNG.
func (s Snapshot) EncodePNG(w io.Writer) error {
	img, err := s.Image()
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}
