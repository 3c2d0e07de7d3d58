package buildinfo

import "testing"

func TestInfoUsesStampedValues(t *testing.T) {
	Version, Commit, BuiltAt = "1.2.3", "abc123", "2024-01-01T00:00:00Z"
	defer func() { Version, Commit, BuiltAt = "dev", "", "" }()
	info := Info()
	if info["version"] != "1.2.3" || info["commit"] != "abc123" || info["builtAt"] != "2024-01-01T00:00:00Z" {
		t.Fatalf("got %v", info)
	}
	if info["go"] == "" {
		t.Fatal("go version missing")
	}
}
