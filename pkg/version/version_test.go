package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "rc1", Build: "abcdef"}
	s := v.String()
	if !strings.HasPrefix(s, "Version: 1.2.3-rc1\nBuild: abcdef\n") {
		t.Errorf("unexpected version string %q", s)
	}
	if !strings.Contains(s, ProtocolVersion) {
		t.Errorf("protocol missing from %q", s)
	}
}

func TestBuildInfo(t *testing.T) {
	if !strings.HasPrefix(BuildInfo(), runtime.Version()+"\n") {
		t.Errorf("unexpected build info %q", BuildInfo())
	}
}
