// Package gstcaps translates between SPA video formats and GStreamer caps strings.
package gstcaps

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/smazurov/pwtexture/pkg/spa"
)

// Caps structure names.
const (
	MediaRawVideo  = "video/x-raw"
	MediaH264      = "video/x-h264"
	MediaJPEG      = "image/jpeg"
	rawVideoFormat = "format"
)

var (
	// ErrEmpty is returned for an empty caps string.
	ErrEmpty = errors.New("gstcaps: empty caps")
	// ErrNotFixed is returned when a field holds a list or range.
	ErrNotFixed = errors.New("gstcaps: caps not fixed")
	// ErrUnknownFormat is returned for raw formats without an SPA equivalent.
	ErrUnknownFormat = errors.New("gstcaps: unknown video format")
)

// Info is the content of a fixed video caps structure.
type Info struct {
	Media      string
	FormatName string
	Width      int
	Height     int
	RateNum    int
	RateDenom  int
}

// FromProposal renders a proposal as a caps filter.
func FromProposal(p spa.VideoProposal) string {
	var b strings.Builder
	b.WriteString(MediaRawVideo)

	names := make([]string, 0, len(p.Formats))
	seen := make(map[spa.VideoFormat]bool, len(p.Formats))
	for _, f := range p.Formats {
		if seen[f] {
			continue
		}
		seen[f] = true
		names = append(names, f.String())
	}
	switch len(names) {
	case 0:
	case 1:
		fmt.Fprintf(&b, ", format=(string)%s", names[0])
	default:
		fmt.Fprintf(&b, ", format=(string){ %s }", strings.Join(names, ", "))
	}

	fmt.Fprintf(&b, ", width=(int)%s", intRange(p.MinSize.Width, p.MaxSize.Width))
	fmt.Fprintf(&b, ", height=(int)%s", intRange(p.MinSize.Height, p.MaxSize.Height))
	if p.MaxRate.Denom != 0 {
		if p.MinRate == p.MaxRate {
			fmt.Fprintf(&b, ", framerate=(fraction)%d/%d", p.MaxRate.Num, p.MaxRate.Denom)
		} else {
			fmt.Fprintf(&b, ", framerate=(fraction)[ %d/%d, %d/%d ]",
				p.MinRate.Num, max(p.MinRate.Denom, 1), p.MaxRate.Num, p.MaxRate.Denom)
		}
	}
	return b.String()
}

func intRange(lo, hi uint32) string {
	if lo == hi {
		return strconv.FormatUint(uint64(lo), 10)
	}
	return fmt.Sprintf("[ %d, %d ]", lo, hi)
}

// Parse reads the first structure of a fixed caps string such as
// "video/x-raw, format=(string)RGB, width=(int)640, height=(int)480, framerate=(fraction)30/1".
func Parse(caps string) (Info, error) {
	caps = strings.TrimSpace(caps)
	if caps == "" {
		return Info{}, ErrEmpty
	}
	// only the first structure matters
	if i := strings.IndexByte(caps, ';'); i >= 0 {
		caps = caps[:i]
	}
	fields := strings.Split(caps, ",")

	info := Info{Media: strings.TrimSpace(fields[0])}
	// drop caps features, e.g. video/x-raw(memory:DMABuf)
	if i := strings.IndexByte(info.Media, '('); i >= 0 {
		info.Media = info.Media[:i]
	}

	for _, field := range fields[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok {
			continue
		}
		value = stripType(value)
		if strings.HasPrefix(value, "{") || strings.HasPrefix(value, "[") {
			return Info{}, fmt.Errorf("%w: %s", ErrNotFixed, key)
		}
		var err error
		switch key {
		case rawVideoFormat:
			info.FormatName = strings.Trim(value, `"`)
		case "width":
			info.Width, err = strconv.Atoi(value)
		case "height":
			info.Height, err = strconv.Atoi(value)
		case "framerate":
			num, den, found := strings.Cut(value, "/")
			if !found {
				den = "1"
			}
			if info.RateNum, err = strconv.Atoi(num); err == nil {
				info.RateDenom, err = strconv.Atoi(den)
			}
		}
		if err != nil {
			return Info{}, fmt.Errorf("gstcaps: field %s: %w", key, err)
		}
	}
	return info, nil
}

func stripType(value string) string {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "(") {
		if i := strings.IndexByte(value, ')'); i >= 0 {
			value = value[i+1:]
		}
	}
	return strings.TrimSpace(value)
}

// ToFormat encodes caps as an SPA Format param. Non raw media produce a
// format object carrying only media type and subtype.
func ToFormat(info Info) (spa.Pod, error) {
	switch info.Media {
	case MediaRawVideo:
	case MediaH264:
		return mediaOnly(spa.MediaTypeVideo, spa.MediaSubtypeH264), nil
	case MediaJPEG:
		return mediaOnly(spa.MediaTypeVideo, spa.MediaSubtypeMJPG), nil
	default:
		return nil, fmt.Errorf("gstcaps: unsupported media %q", info.Media)
	}

	f, ok := spa.ParseVideoFormat(info.FormatName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, info.FormatName)
	}
	if info.Width < 0 || info.Height < 0 || info.RateNum < 0 || info.RateDenom < 0 {
		return nil, fmt.Errorf("gstcaps: negative dimension in %+v", info)
	}
	return spa.BuildVideoFormat(spa.VideoInfoRaw{
		Format:    f,
		Size:      spa.Rectangle{Width: uint32(info.Width), Height: uint32(info.Height)},
		Framerate: spa.Fraction{Num: uint32(info.RateNum), Denom: uint32(info.RateDenom)},
	}), nil
}

func mediaOnly(t spa.MediaType, s spa.MediaSubtype) spa.Pod {
	return spa.MustMarshal(spa.Object{
		ObjectType: spa.ObjectFormat,
		ID:         spa.ParamFormat,
		Props: []spa.Prop{
			{Key: spa.FormatMediaType, Value: spa.Id(t)},
			{Key: spa.FormatMediaSubtype, Value: spa.Id(s)},
		},
	})
}

// Stride returns the row size of a packed raw format, or 0 when unknown.
func Stride(info Info) int32 {
	f, ok := spa.ParseVideoFormat(info.FormatName)
	if !ok {
		return 0
	}
	return int32(f.BytesPerPixel() * info.Width)
}
