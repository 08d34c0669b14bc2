package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestCurrent_Defaults(t *testing.T) {
	oldVersion := AppVersion
	oldCommit := GitCommit
	oldBuildTime := BuildTime
	t.Cleanup(func() {
		AppVersion = oldVersion
		GitCommit = oldCommit
		BuildTime = oldBuildTime
	})

	AppVersion = ""
	GitCommit = ""
	BuildTime = ""

	info := Current("")

	if info.Service != Unknown {
		t.Fatalf("expected service %q, got %q", Unknown, info.Service)
	}
	if info.Version != DevelopmentVersion {
		t.Fatalf("expected version %q, got %q", DevelopmentVersion, info.Version)
	}
	if info.Commit == "" || info.BuildTime == "" {
		t.Fatalf("expected commit and build time to fall back, got %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Fatalf("expected go version %q, got %q", runtime.Version(), info.GoVersion)
	}
}

func TestCurrent_LinkerValuesWin(t *testing.T) {
	oldVersion, oldCommit := AppVersion, GitCommit
	t.Cleanup(func() {
		AppVersion = oldVersion
		GitCommit = oldCommit
	})
	AppVersion = " v1.4.0 "
	GitCommit = "abc123"

	info := Current("configdata")
	if info.Version != "v1.4.0" || info.Commit != "abc123" {
		t.Fatalf("unexpected info %+v", info)
	}
	if !strings.HasPrefix(info.String(), "configdata@v1.4.0 (commit=abc123") {
		t.Fatalf("unexpected string %q", info.String())
	}
}
