package version

import "testing"

func setBuildInfo(t *testing.T, version, commit, buildTime string) {
	t.Helper()
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	t.Cleanup(func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	})
	Version, Commit, BuildTime = version, commit, buildTime
}

func TestString(t *testing.T) {
	setBuildInfo(t, "1.2.3", "abc1234", "2024-01-15T10:00:00Z")

	want := "1.2.3 (abc1234) built 2024-01-15T10:00:00Z"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestAttrs(t *testing.T) {
	setBuildInfo(t, "dev", "unknown", "unknown")

	attrs := Attrs()
	if len(attrs) != 6 {
		t.Fatalf("len(Attrs()) = %d, want 6", len(attrs))
	}
	if attrs[0] != "version" || attrs[1] != "dev" {
		t.Errorf("Attrs()[0:2] = %v, want [version dev]", attrs[0:2])
	}
}

func TestDefaultValues(t *testing.T) {
	// ldflags may override these in release builds
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if Commit == "" {
		t.Error("Commit should not be empty")
	}
	if BuildTime == "" {
		t.Error("BuildTime should not be empty")
	}
}
