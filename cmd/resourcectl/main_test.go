package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"resourcecore/internal/core"
)

const seedDoc = `{
  "states": [{"name": "free"}, {"name": "busy"}],
  "types": [{"name": "Table", "fields": [{"name": "Zone"}, {"name": "Code", "hidden": true}]}],
  "resources": [
    {"type": "Table", "name": "T1", "values": {"Zone": "patio", "Code": "x1"}, "state": 1},
    {"type": "Table", "name": "T2", "values": {"Zone": "bar"}},
    {"type": "Table", "name": "T3", "values": {"Zone": "patio"}, "state": 2}
  ],
  "screens": [{"name": "Floor", "page_count": 2, "item_count_per_page": 2,
    "resources": [{"type": "Table", "name": "T1"}, {"type": "Table", "name": "T2"}, {"type": "Table", "name": "T3"}]}]
}`

func useSQLite(t *testing.T, name string) {
	t.Helper()
	t.Setenv("RESOURCECORE_STORAGE_DRIVER", "sqlite")
	t.Setenv("RESOURCECORE_SQLITE_PATH", filepath.Join(t.TempDir(), name))
	t.Setenv("RESOURCECORE_LOG_LEVEL", "error")
}

func invoke(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func mustInvoke(t *testing.T, args ...string) string {
	t.Helper()
	code, out, errOut := invoke(t, args...)
	if code != 0 {
		t.Fatalf("%v exited %d: %s", args, code, errOut)
	}
	return out
}

func writeSeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(path, []byte(seedDoc), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestUsage(t *testing.T) {
	if code, _, errOut := invoke(t); code != 2 || !strings.Contains(errOut, "usage: resourcectl") {
		t.Fatalf("expected usage, got %d %q", code, errOut)
	}
	if code, _, errOut := invoke(t, "frobnicate"); code != 2 || !strings.Contains(errOut, "unknown command") {
		t.Fatalf("expected unknown command, got %d %q", code, errOut)
	}
}

func TestCommandsAgainstSQLite(t *testing.T) {
	useSQLite(t, "cli.db")
	out := mustInvoke(t, "seed", "-file", writeSeed(t))
	var summary seedSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary != (seedSummary{States: 2, Types: 1, Resources: 3, Screens: 1, Events: 2}) {
		t.Fatalf("unexpected summary %+v", summary)
	}

	out = mustInvoke(t, "set-state", "-resource", "2", "-state", "2")
	if !strings.Contains(out, `"state_id": 2`) {
		t.Fatalf("unexpected set-state output %s", out)
	}

	var found []core.Resource
	if err := json.Unmarshal([]byte(mustInvoke(t, "find", "-type", "1", "-q", "patio", "-state", "2")), &found); err != nil {
		t.Fatalf("decode find: %v", err)
	}
	if len(found) != 1 || found[0].Name != "T3" {
		t.Fatalf("unexpected find result %+v", found)
	}
	// The hidden Code value matches the raw stage but not the typed refinement.
	if err := json.Unmarshal([]byte(mustInvoke(t, "find", "-type", "1", "-q", "x1")), &found); err != nil || len(found) != 0 {
		t.Fatalf("expected hidden-only match excluded, got %+v (%v)", found, err)
	}

	var events []core.StateChangeEvent
	if err := json.Unmarshal([]byte(mustInvoke(t, "history", "-resource", "2")), &events); err != nil || len(events) != 1 {
		t.Fatalf("unexpected history %+v (%v)", events, err)
	}

	var slots []core.ScreenSlot
	if err := json.Unmarshal([]byte(mustInvoke(t, "page", "-screen", "1", "-page", "0")), &slots); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(slots) != 2 || slots[0].ResourceStateID != 1 || slots[1].ResourceStateID != 2 {
		t.Fatalf("unexpected page %+v", slots)
	}

	if code, _, errOut := invoke(t, "find", "-type", "9"); code != 1 || !strings.Contains(errOut, "not found") {
		t.Fatalf("expected missing type failure, got %d %q", code, errOut)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	useSQLite(t, "source.db")
	t.Setenv("RESOURCECORE_BLOB_DRIVER", "fs")
	t.Setenv("RESOURCECORE_BLOB_FS_ROOT", t.TempDir())
	mustInvoke(t, "seed", "-file", writeSeed(t))

	var manifest core.ExportManifest
	if err := json.Unmarshal([]byte(mustInvoke(t, "export", "-prefix", "nightly")), &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.Events != 2 || !strings.HasPrefix(manifest.EventsKey, "nightly/") {
		t.Fatalf("unexpected manifest %+v", manifest)
	}

	t.Setenv("RESOURCECORE_SQLITE_PATH", filepath.Join(t.TempDir(), "target.db"))
	out := mustInvoke(t, "import", "-key", manifest.EventsKey)
	if !strings.Contains(out, `"events": 2`) {
		t.Fatalf("unexpected import output %s", out)
	}
	var events []core.StateChangeEvent
	if err := json.Unmarshal([]byte(mustInvoke(t, "history", "-resource", "3")), &events); err != nil || len(events) != 1 || events[0].StateID != 2 {
		t.Fatalf("unexpected imported history %+v (%v)", events, err)
	}
}

func TestFlagErrors(t *testing.T) {
	useSQLite(t, "flags.db")
	for _, args := range [][]string{
		{"set-state"},
		{"set-state", "-resource", "1", "-state", "-1"},
		{"history"},
		{"page"},
		{"import"},
		{"seed"},
		{"find", "-bogus"},
	} {
		if code, _, _ := invoke(t, args...); code != 2 {
			t.Fatalf("%v: expected exit 2, got %d", args, code)
		}
	}
}

func TestStorageConfigurationError(t *testing.T) {
	t.Setenv("RESOURCECORE_STORAGE_DRIVER", "tape")
	code, _, errOut := invoke(t, "history", "-resource", "1")
	if code != 1 || !strings.Contains(errOut, "unknown storage driver") {
		t.Fatalf("expected storage error, got %d %q", code, errOut)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Setenv("RESOURCECORE_STORAGE_DRIVER", "memory")
	t.Setenv("RESOURCECORE_BLOB_DRIVER", "memory")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var stdout, stderr bytes.Buffer
	if code := run(ctx, []string{"serve", "-addr", "127.0.0.1:0", "-trace"}, &stdout, &stderr); code != 0 {
		t.Fatalf("serve exited %d: %s", code, stderr.String())
	}
}
