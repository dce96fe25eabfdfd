package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrPluginNotFound is returned when a requested plugin cannot be found.
var ErrPluginNotFound = errors.New("plugin not found")

const manifestFile = "plugin.json"

// Manager manages plugin discovery and access.
type Manager struct {
	pluginDir string
	plugins   map[string]*Plugin
	mu        sync.RWMutex
}

// NewManager creates a new plugin Manager with the given plugin directory.
func NewManager(pluginDir string) *Manager {
	return &Manager{
		pluginDir: pluginDir,
		plugins:   make(map[string]*Plugin),
	}
}

// Discover replaces the known plugins with those found in the plugin
// directory. Each subdirectory holding a plugin.json manifest is one plugin;
// unreadable or incomplete manifests are logged and skipped. A missing plugin
// directory is not an error.
func (m *Manager) Discover() error {
	entries, err := os.ReadDir(m.pluginDir)
	if errors.Is(err, fs.ErrNotExist) {
		m.replace(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read plugin dir: %w", err)
	}

	found := make(map[string]*Plugin)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.pluginDir, entry.Name())
		plugin, err := loadPlugin(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Skipping plugin")
			continue
		}
		if prev, dup := found[plugin.Manifest.Name]; dup {
			log.Warn().Str("plugin", plugin.Manifest.Name).Str("dir", dir).Str("kept", prev.Path).Msg("Skipping duplicate plugin name")
			continue
		}
		found[plugin.Manifest.Name] = plugin
		log.Debug().Str("plugin", plugin.Manifest.Name).Strs("events", plugin.Manifest.Events).Msg("Plugin discovered")
	}

	m.replace(found)
	return nil
}

func (m *Manager) replace(plugins map[string]*Plugin) {
	if plugins == nil {
		plugins = make(map[string]*Plugin)
	}
	m.mu.Lock()
	m.plugins = plugins
	m.mu.Unlock()
}

// loadPlugin reads dir/plugin.json. It returns an error wrapping
// fs.ErrNotExist when dir has no manifest.
func loadPlugin(dir string) (*Plugin, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if manifest.Name == "" || manifest.Executable == "" {
		return nil, errors.New("manifest needs a name and an executable")
	}
	if !filepath.IsLocal(manifest.Executable) {
		return nil, fmt.Errorf("executable %q must stay inside the plugin directory", manifest.Executable)
	}
	for _, ev := range manifest.Events {
		if ev != "entry" && ev != "exit" {
			log.Warn().Str("plugin", manifest.Name).Str("event", ev).Msg("Plugin subscribes to an unknown event")
		}
	}

	return &Plugin{
		Manifest:   manifest,
		Path:       dir,
		Executable: filepath.Join(dir, manifest.Executable),
	}, nil
}

// Get returns a plugin by name.
// Returns ErrPluginNotFound if the plugin does not exist.
func (m *Manager) Get(name string) (*Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plugin, ok := m.plugins[name]
	if !ok {
		return nil, ErrPluginNotFound
	}

	return plugin, nil
}

// List returns all discovered plugins ordered by name.
func (m *Manager) List() []*Plugin {
	return m.filter(func(*Plugin) bool { return true })
}

// Subscribed returns the plugins that want events of eventType, ordered by
// name.
func (m *Manager) Subscribed(eventType string) []*Plugin {
	return m.filter(func(p *Plugin) bool { return p.Manifest.Subscribes(eventType) })
}

func (m *Manager) filter(keep func(*Plugin) bool) []*Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plugins := make([]*Plugin, 0, len(m.plugins))
	for _, plugin := range m.plugins {
		if keep(plugin) {
			plugins = append(plugins, plugin)
		}
	}
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Manifest.Name < plugins[j].Manifest.Name
	})
	return plugins
}

// PluginDir returns the plugin directory path.
func (m *Manager) PluginDir() string {
	return m.pluginDir
}
