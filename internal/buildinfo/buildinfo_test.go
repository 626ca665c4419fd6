package buildinfo

import (
	"strings"
	"testing"
)

func TestInfoIncludesRuntimeFields(t *testing.T) {
	info := Info()
	for _, key := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch", "uptime"} {
		if _, ok := info[key]; !ok {
			t.Errorf("Info() missing key %q", key)
		}
	}
}

func TestUptimeIsNonNegativeAndGrows(t *testing.T) {
	first := Uptime()
	if first < 0 {
		t.Fatalf("Uptime() = %v, want >= 0", first)
	}
	second := Uptime()
	if second < first {
		t.Errorf("Uptime() went backwards: %v then %v", first, second)
	}
}

func TestStringIncludesVersion(t *testing.T) {
	s := String()
	if !strings.Contains(s, Version) {
		t.Errorf("String() = %q, want it to contain version %q", s, Version)
	}
	if !strings.HasPrefix(s, "gpagent ") {
		t.Errorf("String() = %q, want it to start with \"gpagent \"", s)
	}
}

func TestUserAgentIncludesVersion(t *testing.T) {
	ua := UserAgent()
	if !strings.Contains(ua, Version) {
		t.Errorf("UserAgent() = %q, want it to contain version %q", ua, Version)
	}
	if !strings.HasPrefix(ua, "gpagent/") {
		t.Errorf("UserAgent() = %q, want it to start with \"gpagent/\"", ua)
	}
}
