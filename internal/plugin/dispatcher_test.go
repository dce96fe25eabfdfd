package plugin

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/headcount/internal/persist"
	"github.com/ayusman/headcount/internal/zone"
)

// installScript discovers a shell-script plugin under dir that appends its
// stdin to out.
func installScript(t *testing.T, dir, name string, events []string, out string) {
	t.Helper()
	pluginDir := writeManifest(t, dir, Manifest{Name: name, Executable: "run.sh", Events: events})
	script := "#!/bin/sh\ncat >> " + out + "\necho >> " + out + "\necho '{\"success\":true}'\n"
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "run.sh"), []byte(script), 0755))
}

func TestDispatcher_OnEvent(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}

	dir := t.TempDir()
	outDir := t.TempDir()
	entries := filepath.Join(outDir, "entries.log")
	all := filepath.Join(outDir, "all.log")
	installScript(t, dir, "on-entry", []string{"entry"}, entries)
	installScript(t, dir, "on-all", nil, all)

	m := NewManager(dir)
	require.NoError(t, m.Discover())
	d := NewDispatcher(m, 5*time.Second)

	ev := persist.Event{
		RunID:     "run-1",
		TrackID:   3,
		Type:      persist.EventExit,
		Timestamp: time.Now(),
		Zone:      "gate",
		Counters:  zone.Snapshot{Entries: 1, Exits: 1},
	}
	d.OnEvent(context.Background(), ev)
	ev.Type = persist.EventEntry
	d.OnEvent(context.Background(), ev)

	assert.Equal(t, uint64(3), d.Runs())
	assert.Zero(t, d.Failures())

	got, err := os.ReadFile(all)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(got), `"track_id":3`))
	assert.Contains(t, string(got), `"event":"exit"`)

	got, err = os.ReadFile(entries)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(got), `"event":"entry"`))
	assert.NotContains(t, string(got), `"event":"exit"`)
}

func TestDispatcher_CountsFailures(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}

	dir := t.TempDir()
	pluginDir := writeManifest(t, dir, Manifest{Name: "broken", Executable: "run.sh"})
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "run.sh"), []byte("#!/bin/sh\necho '{\"success\":false,\"error\":\"nope\"}'\n"), 0755))
	writeManifest(t, dir, Manifest{Name: "missing", Executable: "does-not-exist"})

	m := NewManager(dir)
	require.NoError(t, m.Discover())
	d := NewDispatcher(m, 5*time.Second)

	d.OnEvent(context.Background(), persist.Event{Type: persist.EventEntry, Zone: "gate"})

	assert.Equal(t, uint64(2), d.Runs())
	assert.Equal(t, uint64(2), d.Failures())
}

func TestDispatcher_NoPlugins(t *testing.T) {
	m := NewManager(t.TempDir())
	require.NoError(t, m.Discover())
	d := NewDispatcher(m, time.Second)

	d.OnEvent(context.Background(), persist.Event{Type: persist.EventEntry})
	assert.Zero(t, d.Runs())
}
