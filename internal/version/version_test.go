package version

import (
	"testing"

	"github.com/smazurov/pwtexture/pkg/pipewire"
)

func setBuild(t *testing.T, version, commit string) {
	t.Helper()
	oldVersion, oldCommit := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = oldVersion, oldCommit })
	Version, GitCommit = version, commit
}

func TestString(t *testing.T) {
	tests := []struct {
		name    string
		version string
		commit  string
		want    string
	}{
		{"unstamped", "dev", "unknown", "dev"},
		{"empty commit", "1.0.0", "", "1.0.0"},
		{"short commit", "1.0.0", "abc12", "1.0.0 (abc12)"},
		{"full commit", "1.2.0", "0123456789abcdef", "1.2.0 (0123456)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBuild(t, tt.version, tt.commit)
			if got := String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetReportsProtocol(t *testing.T) {
	info := Get()
	if info.Protocol != pipewire.ProtocolVersion {
		t.Errorf("Protocol = %d, want %d", info.Protocol, pipewire.ProtocolVersion)
	}
	if info.GoVersion == "" || info.Platform == "" {
		t.Errorf("runtime fields missing: %+v", info)
	}
}

func TestClientProperties(t *testing.T) {
	setBuild(t, "1.2.0", "unknown")

	props := ClientProperties("")
	if props[pipewire.KeyApplicationName] != Name {
		t.Errorf("application.name = %q, want %q", props[pipewire.KeyApplicationName], Name)
	}
	if props[pipewire.KeyApplicationVersion] != "1.2.0" {
		t.Errorf("application.version = %q", props[pipewire.KeyApplicationVersion])
	}

	if got := ClientProperties("obs-bridge")[pipewire.KeyApplicationName]; got != "obs-bridge" {
		t.Errorf("application.name = %q, want obs-bridge", got)
	}
}
