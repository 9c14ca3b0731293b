package spa

import (
	"errors"
	"reflect"
	"testing"
)

func TestEnumFormatProposal(t *testing.T) {
	pod, err := BuildEnumFormat(DefaultVideoProposal())
	if err != nil {
		t.Fatalf("BuildEnumFormat() error = %v", err)
	}
	obj, err := pod.Object()
	if err != nil {
		t.Fatalf("Object() error = %v", err)
	}
	if obj.ObjectType != ObjectFormat || obj.ID != ParamEnumFormat {
		t.Fatalf("object type/id = 0x%x/%d", obj.ObjectType, obj.ID)
	}

	mt, ms, err := ParseFormat(obj)
	if err != nil {
		t.Fatalf("ParseFormat() error = %v", err)
	}
	if mt != MediaTypeVideo || ms != MediaSubtypeRaw {
		t.Errorf("media = %s/%s, want video/raw", mt, ms)
	}

	p, _ := obj.Prop(FormatVideoFormat)
	choice, ok := p.Value.(Choice)
	if !ok || choice.Kind != ChoiceEnum {
		t.Fatalf("format prop = %#v, want enum choice", p.Value)
	}
	wantIDs := []Value{
		Id(VideoFormatRGB), Id(VideoFormatRGB), Id(VideoFormatRGBA),
		Id(VideoFormatRGBx), Id(VideoFormatBGRx), Id(VideoFormatYUY2), Id(VideoFormatI420),
	}
	if !reflect.DeepEqual(choice.Values, wantIDs) {
		t.Errorf("format choice = %v, want %v", choice.Values, wantIDs)
	}

	parsed, err := ParseVideoProposal(obj)
	if err != nil {
		t.Fatalf("ParseVideoProposal() error = %v", err)
	}
	if !reflect.DeepEqual(parsed, DefaultVideoProposal()) {
		t.Errorf("ParseVideoProposal() = %+v, want %+v", parsed, DefaultVideoProposal())
	}
}

func TestBuildEnumFormatRequiresFormats(t *testing.T) {
	if _, err := BuildEnumFormat(VideoProposal{}); err == nil {
		t.Error("BuildEnumFormat() with no formats should fail")
	}
}

func TestParseVideoRaw(t *testing.T) {
	want := VideoInfoRaw{
		Format:    VideoFormatBGRx,
		Size:      Rectangle{Width: 1920, Height: 1080},
		Framerate: Fraction{Num: 60, Denom: 1},
	}
	obj, err := BuildVideoFormat(want).Object()
	if err != nil {
		t.Fatalf("Object() error = %v", err)
	}
	got, err := ParseVideoRaw(obj)
	if err != nil {
		t.Fatalf("ParseVideoRaw() error = %v", err)
	}
	if got != want {
		t.Errorf("ParseVideoRaw() = %+v, want %+v", got, want)
	}
}

func TestParseVideoRawAcceptsChoiceNone(t *testing.T) {
	obj := Object{
		ObjectType: ObjectFormat,
		ID:         ParamFormat,
		Props: []Prop{
			{Key: FormatVideoFormat, Value: Choice{Kind: ChoiceNone, Values: []Value{Id(VideoFormatRGBA)}}},
			{Key: FormatVideoSize, Value: Choice{Kind: ChoiceNone, Values: []Value{Rectangle{64, 32}}}},
		},
	}
	got, err := ParseVideoRaw(obj)
	if err != nil {
		t.Fatalf("ParseVideoRaw() error = %v", err)
	}
	if got.Format != VideoFormatRGBA || got.Size != (Rectangle{64, 32}) {
		t.Errorf("ParseVideoRaw() = %+v", got)
	}
	if got.Framerate != (Fraction{}) {
		t.Errorf("missing framerate should stay zero, got %+v", got.Framerate)
	}
}

func TestParseVideoRawErrors(t *testing.T) {
	tests := []struct {
		name    string
		props   []Prop
		wantErr error
	}{
		{
			name:    "missing size",
			props:   []Prop{{Key: FormatVideoFormat, Value: Id(VideoFormatRGB)}},
			wantErr: ErrMissingProp,
		},
		{
			name: "unfixated format",
			props: []Prop{
				{Key: FormatVideoFormat, Value: Choice{Kind: ChoiceEnum, Values: []Value{Id(2), Id(3)}}},
				{Key: FormatVideoSize, Value: Rectangle{1, 1}},
			},
			wantErr: ErrUnexpectedType,
		},
		{
			name: "size of wrong type",
			props: []Prop{
				{Key: FormatVideoFormat, Value: Id(VideoFormatRGB)},
				{Key: FormatVideoSize, Value: Int(5)},
			},
			wantErr: ErrUnexpectedType,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseVideoRaw(Object{ObjectType: ObjectFormat, ID: ParamFormat, Props: tt.props})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseVideoRaw() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseFormatRejectsOtherObjects(t *testing.T) {
	_, _, err := ParseFormat(Object{ObjectType: 0x40002})
	if !errors.Is(err, ErrNotFormat) {
		t.Errorf("ParseFormat() error = %v, want ErrNotFormat", err)
	}
}

func TestVideoFormatNames(t *testing.T) {
	for _, f := range DefaultVideoProposal().Formats {
		got, ok := ParseVideoFormat(f.String())
		if !ok || got != f {
			t.Errorf("ParseVideoFormat(%q) = %v, %v", f.String(), got, ok)
		}
	}
	if _, ok := ParseVideoFormat("NV12"); ok {
		t.Error("NV12 should not be known")
	}
	if VideoFormat(99).String() != "VideoFormat(99)" {
		t.Errorf("unknown format name = %q", VideoFormat(99).String())
	}
}

func TestProposalAccepts(t *testing.T) {
	p := DefaultVideoProposal()
	tests := []struct {
		info VideoInfoRaw
		want bool
	}{
		{VideoInfoRaw{Format: VideoFormatRGB, Size: Rectangle{320, 240}}, true},
		{VideoInfoRaw{Format: VideoFormatI420, Size: Rectangle{4096, 4096}}, true},
		{VideoInfoRaw{Format: VideoFormatRGB, Size: Rectangle{4097, 1}}, false},
		{VideoInfoRaw{Format: VideoFormatRGB, Size: Rectangle{0, 10}}, false},
		{VideoInfoRaw{Format: VideoFormatABGR, Size: Rectangle{10, 10}}, false},
	}
	for _, tt := range tests {
		if got := p.Accepts(tt.info); got != tt.want {
			t.Errorf("Accepts(%+v) = %v, want %v", tt.info, got, tt.want)
		}
	}
}
