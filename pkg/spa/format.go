package spa

import (
	"errors"
	"fmt"
)

// Object types.
const (
	ObjectFormat uint32 = 0x40003
)

// Param ids carried in Object.ID.
const (
	ParamEnumFormat uint32 = 3
	ParamFormat     uint32 = 4
)

// Format object property keys.
const (
	FormatMediaType      uint32 = 1
	FormatMediaSubtype   uint32 = 2
	FormatVideoFormat    uint32 = 0x20001
	FormatVideoModifier  uint32 = 0x20002
	FormatVideoSize      uint32 = 0x20003
	FormatVideoFramerate uint32 = 0x20004
)

// MediaType is the top level classification of a format.
type MediaType uint32

const (
	MediaTypeUnknown     MediaType = 0
	MediaTypeAudio       MediaType = 1
	MediaTypeVideo       MediaType = 2
	MediaTypeImage       MediaType = 3
	MediaTypeBinary      MediaType = 4
	MediaTypeStream      MediaType = 5
	MediaTypeApplication MediaType = 6
)

func (m MediaType) String() string {
	switch m {
	case MediaTypeAudio:
		return "audio"
	case MediaTypeVideo:
		return "video"
	case MediaTypeImage:
		return "image"
	case MediaTypeBinary:
		return "binary"
	case MediaTypeStream:
		return "stream"
	case MediaTypeApplication:
		return "application"
	default:
		return "unknown"
	}
}

// MediaSubtype refines a MediaType.
type MediaSubtype uint32

const (
	MediaSubtypeUnknown MediaSubtype = 0
	MediaSubtypeRaw     MediaSubtype = 1
	MediaSubtypeDSP     MediaSubtype = 2
	MediaSubtypeH264    MediaSubtype = 0x20001
	MediaSubtypeMJPG    MediaSubtype = 0x20002
)

func (m MediaSubtype) String() string {
	switch m {
	case MediaSubtypeRaw:
		return "raw"
	case MediaSubtypeDSP:
		return "dsp"
	case MediaSubtypeH264:
		return "h264"
	case MediaSubtypeMJPG:
		return "mjpg"
	default:
		return fmt.Sprintf("subtype(0x%x)", uint32(m))
	}
}

// VideoFormat is a raw video pixel layout.
type VideoFormat uint32

const (
	VideoFormatUnknown VideoFormat = 0
	VideoFormatEncoded VideoFormat = 1
	VideoFormatI420    VideoFormat = 2
	VideoFormatYV12    VideoFormat = 3
	VideoFormatYUY2    VideoFormat = 4
	VideoFormatUYVY    VideoFormat = 5
	VideoFormatAYUV    VideoFormat = 6
	VideoFormatRGBx    VideoFormat = 7
	VideoFormatBGRx    VideoFormat = 8
	VideoFormatxRGB    VideoFormat = 9
	VideoFormatxBGR    VideoFormat = 10
	VideoFormatRGBA    VideoFormat = 11
	VideoFormatBGRA    VideoFormat = 12
	VideoFormatARGB    VideoFormat = 13
	VideoFormatABGR    VideoFormat = 14
	VideoFormatRGB     VideoFormat = 15
	VideoFormatBGR     VideoFormat = 16
)

var videoFormatNames = []string{
	"UNKNOWN", "ENCODED", "I420", "YV12", "YUY2", "UYVY", "AYUV",
	"RGBx", "BGRx", "xRGB", "xBGR", "RGBA", "BGRA", "ARGB", "ABGR", "RGB", "BGR",
}

// String returns the conventional short name, which also matches GStreamer caps.
func (f VideoFormat) String() string {
	if int(f) < len(videoFormatNames) {
		return videoFormatNames[f]
	}
	return fmt.Sprintf("VideoFormat(%d)", uint32(f))
}

// ParseVideoFormat maps a short name back to a VideoFormat.
func ParseVideoFormat(name string) (VideoFormat, bool) {
	for i, n := range videoFormatNames {
		if n == name {
			return VideoFormat(i), true
		}
	}
	return VideoFormatUnknown, false
}

// BytesPerPixel reports the packed pixel size, or 0 for planar and subsampled formats.
func (f VideoFormat) BytesPerPixel() int {
	switch f {
	case VideoFormatRGB, VideoFormatBGR:
		return 3
	case VideoFormatRGBx, VideoFormatBGRx, VideoFormatxRGB, VideoFormatxBGR,
		VideoFormatRGBA, VideoFormatBGRA, VideoFormatARGB, VideoFormatABGR, VideoFormatAYUV:
		return 4
	default:
		return 0
	}
}

var (
	// ErrNotFormat is returned for objects that are not format objects.
	ErrNotFormat = errors.New("spa: not a format object")
	// ErrMissingProp is returned when a required format property is absent.
	ErrMissingProp = errors.New("spa: missing format property")
)

// ParseFormat extracts media type and subtype from a format object.
func ParseFormat(obj Object) (MediaType, MediaSubtype, error) {
	if obj.ObjectType != ObjectFormat {
		return 0, 0, fmt.Errorf("%w: object type 0x%x", ErrNotFormat, obj.ObjectType)
	}
	mt, err := fixedID(obj, FormatMediaType)
	if err != nil {
		return 0, 0, err
	}
	ms, err := fixedID(obj, FormatMediaSubtype)
	if err != nil {
		return 0, 0, err
	}
	return MediaType(mt), MediaSubtype(ms), nil
}

func fixedProp(obj Object, key uint32) (Value, error) {
	p, ok := obj.Prop(key)
	if !ok {
		return nil, fmt.Errorf("%w: 0x%x", ErrMissingProp, key)
	}
	v, ok := Fixated(p.Value)
	if !ok {
		return nil, fmt.Errorf("%w: 0x%x is not fixated", ErrUnexpectedType, key)
	}
	return v, nil
}

func fixedID(obj Object, key uint32) (uint32, error) {
	v, err := fixedProp(obj, key)
	if err != nil {
		return 0, err
	}
	id, ok := v.(Id)
	if !ok {
		return 0, fmt.Errorf("%w: 0x%x is %s, want Id", ErrUnexpectedType, key, v.Type())
	}
	return uint32(id), nil
}

// VideoInfoRaw is a fixated raw video format.
type VideoInfoRaw struct {
	Format    VideoFormat
	Size      Rectangle
	Framerate Fraction
	Modifier  uint64
}

// ParseVideoRaw reads the video properties of a fixated video/raw format object.
// Framerate and modifier are optional.
func ParseVideoRaw(obj Object) (VideoInfoRaw, error) {
	var info VideoInfoRaw
	f, err := fixedID(obj, FormatVideoFormat)
	if err != nil {
		return info, err
	}
	info.Format = VideoFormat(f)

	v, err := fixedProp(obj, FormatVideoSize)
	if err != nil {
		return info, err
	}
	size, ok := v.(Rectangle)
	if !ok {
		return info, fmt.Errorf("%w: size is %s", ErrUnexpectedType, v.Type())
	}
	info.Size = size

	if v, err := fixedProp(obj, FormatVideoFramerate); err == nil {
		if rate, ok := v.(Fraction); ok {
			info.Framerate = rate
		}
	}
	if v, err := fixedProp(obj, FormatVideoModifier); err == nil {
		if mod, ok := v.(Long); ok {
			info.Modifier = uint64(mod)
		}
	}
	return info, nil
}

// BuildVideoFormat encodes a fixated video/raw Format param.
func BuildVideoFormat(info VideoInfoRaw) Pod {
	props := []Prop{
		{Key: FormatMediaType, Value: Id(MediaTypeVideo)},
		{Key: FormatMediaSubtype, Value: Id(MediaSubtypeRaw)},
		{Key: FormatVideoFormat, Value: Id(info.Format)},
		{Key: FormatVideoSize, Value: info.Size},
	}
	if info.Framerate.Denom != 0 {
		props = append(props, Prop{Key: FormatVideoFramerate, Value: info.Framerate})
	}
	return MustMarshal(Object{ObjectType: ObjectFormat, ID: ParamFormat, Props: props})
}

// VideoProposal describes the set of raw video formats a consumer accepts.
type VideoProposal struct {
	Formats     []VideoFormat // first entry is the preferred format
	DefaultSize Rectangle
	MinSize     Rectangle
	MaxSize     Rectangle
	DefaultRate Fraction
	MinRate     Fraction
	MaxRate     Fraction
}

// DefaultVideoProposal returns the proposal used for every capture stream.
func DefaultVideoProposal() VideoProposal {
	return VideoProposal{
		Formats: []VideoFormat{
			VideoFormatRGB,
			VideoFormatRGBA,
			VideoFormatRGBx,
			VideoFormatBGRx,
			VideoFormatYUY2,
			VideoFormatI420,
		},
		DefaultSize: Rectangle{Width: 320, Height: 240},
		MinSize:     Rectangle{Width: 1, Height: 1},
		MaxSize:     Rectangle{Width: 4096, Height: 4096},
		DefaultRate: Fraction{Num: 25, Denom: 1},
		MinRate:     Fraction{Num: 0, Denom: 1},
		MaxRate:     Fraction{Num: 1000, Denom: 1},
	}
}

// Accepts reports whether a fixated format lies inside the proposal.
func (p VideoProposal) Accepts(info VideoInfoRaw) bool {
	found := false
	for _, f := range p.Formats {
		if f == info.Format {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	w, h := info.Size.Width, info.Size.Height
	return w >= p.MinSize.Width && h >= p.MinSize.Height &&
		w <= p.MaxSize.Width && h <= p.MaxSize.Height
}

// BuildEnumFormat encodes the proposal as an EnumFormat param.
// The format choice lists the preferred format as default and again
// as the first alternative.
func BuildEnumFormat(p VideoProposal) (Pod, error) {
	if len(p.Formats) == 0 {
		return nil, errors.New("spa: proposal has no formats")
	}
	formats := make([]Value, 0, len(p.Formats)+1)
	formats = append(formats, Id(p.Formats[0]))
	for _, f := range p.Formats {
		formats = append(formats, Id(f))
	}
	return Marshal(Object{
		ObjectType: ObjectFormat,
		ID:         ParamEnumFormat,
		Props: []Prop{
			{Key: FormatMediaType, Value: Id(MediaTypeVideo)},
			{Key: FormatMediaSubtype, Value: Id(MediaSubtypeRaw)},
			{Key: FormatVideoFormat, Value: Choice{Kind: ChoiceEnum, Values: formats}},
			{Key: FormatVideoSize, Value: Choice{
				Kind:   ChoiceRange,
				Values: []Value{p.DefaultSize, p.MinSize, p.MaxSize},
			}},
			{Key: FormatVideoFramerate, Value: Choice{
				Kind:   ChoiceRange,
				Values: []Value{p.DefaultRate, p.MinRate, p.MaxRate},
			}},
		},
	})
}

// ParseVideoProposal decodes an EnumFormat param built by BuildEnumFormat
// or by a peer using the same layout.
func ParseVideoProposal(obj Object) (VideoProposal, error) {
	var p VideoProposal
	if obj.ObjectType != ObjectFormat {
		return p, fmt.Errorf("%w: object type 0x%x", ErrNotFormat, obj.ObjectType)
	}

	fp, ok := obj.Prop(FormatVideoFormat)
	if !ok {
		return p, fmt.Errorf("%w: video format", ErrMissingProp)
	}
	switch v := fp.Value.(type) {
	case Id:
		p.Formats = []VideoFormat{VideoFormat(v)}
	case Choice:
		values := v.Values
		if v.Kind == ChoiceEnum && len(values) > 1 {
			values = values[1:]
		}
		for _, f := range values {
			id, ok := f.(Id)
			if !ok {
				return p, fmt.Errorf("%w: format entry %s", ErrUnexpectedType, f.Type())
			}
			p.Formats = append(p.Formats, VideoFormat(id))
		}
	default:
		return p, fmt.Errorf("%w: video format %s", ErrUnexpectedType, v.Type())
	}

	if sp, ok := obj.Prop(FormatVideoSize); ok {
		r, err := rectangleRange(sp.Value)
		if err != nil {
			return p, err
		}
		p.DefaultSize, p.MinSize, p.MaxSize = r[0], r[1], r[2]
	}
	if rp, ok := obj.Prop(FormatVideoFramerate); ok {
		r, err := fractionRange(rp.Value)
		if err != nil {
			return p, err
		}
		p.DefaultRate, p.MinRate, p.MaxRate = r[0], r[1], r[2]
	}
	return p, nil
}

func rectangleRange(v Value) ([3]Rectangle, error) {
	var out [3]Rectangle
	switch v := v.(type) {
	case Rectangle:
		out = [3]Rectangle{v, v, v}
	case Choice:
		if len(v.Values) == 0 {
			return out, fmt.Errorf("%w: empty size choice", ErrMissingProp)
		}
		for i := range out {
			src := v.Values[0]
			if v.Kind == ChoiceRange && i < len(v.Values) {
				src = v.Values[i]
			}
			r, ok := src.(Rectangle)
			if !ok {
				return out, fmt.Errorf("%w: size entry %s", ErrUnexpectedType, src.Type())
			}
			out[i] = r
		}
	default:
		return out, fmt.Errorf("%w: size %s", ErrUnexpectedType, v.Type())
	}
	return out, nil
}

func fractionRange(v Value) ([3]Fraction, error) {
	var out [3]Fraction
	switch v := v.(type) {
	case Fraction:
		out = [3]Fraction{v, v, v}
	case Choice:
		if len(v.Values) == 0 {
			return out, fmt.Errorf("%w: empty framerate choice", ErrMissingProp)
		}
		for i := range out {
			src := v.Values[0]
			if v.Kind == ChoiceRange && i < len(v.Values) {
				src = v.Values[i]
			}
			f, ok := src.(Fraction)
			if !ok {
				return out, fmt.Errorf("%w: framerate entry %s", ErrUnexpectedType, src.Type())
			}
			out[i] = f
		}
	default:
		return out, fmt.Errorf("%w: framerate %s", ErrUnexpectedType, v.Type())
	}
	return out, nil
}
