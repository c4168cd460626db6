// Package host loads external embedding plugins.
package host

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/spetr/localchat/pkg/plugin/shared"
	"github.com/spetr/localchat/pkg/types"
)

// Manager manages external plugins.
type Manager struct {
	pluginsDir string
	plugins    map[string]*LoadedPlugin
	mu         sync.RWMutex
	logger     hclog.Logger
}

// LoadedPlugin represents a loaded plugin.
type LoadedPlugin struct {
	Name      string
	Path      string
	Client    *plugin.Client
	Embedding shared.EmbeddingProvider
}

// NewManager creates a new plugin manager for executables in pluginsDir.
func NewManager(pluginsDir string, level string) *Manager {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "plugins",
		Level:  hclog.LevelFromString(level),
		Output: os.Stderr,
	})

	return &Manager{
		pluginsDir: pluginsDir,
		plugins:    make(map[string]*LoadedPlugin),
		logger:     logger,
	}
}

// Dir returns the plugins directory.
func (m *Manager) Dir() string {
	return m.pluginsDir
}

// DiscoverPlugins lists executable files in the plugins directory, sorted.
func (m *Manager) DiscoverPlugins() ([]string, error) {
	if _, err := os.Stat(m.pluginsDir); os.IsNotExist(err) {
		return nil, nil // No plugins directory
	}

	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	var plugins []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		// Check if executable
		if info.Mode()&0111 != 0 {
			plugins = append(plugins, entry.Name())
		}
	}

	sort.Strings(plugins)
	return plugins, nil
}

// LoadEmbedding starts the named plugin and returns it as an EmbeddingProvider.
// A plugin is started once; later calls return the running instance.
func (m *Manager) LoadEmbedding(name string) (*EmbeddingAdapter, error) {
	p, err := m.load(name)
	if err != nil {
		return nil, err
	}
	return NewEmbeddingAdapter(p.Embedding), nil
}

func (m *Manager) load(name string) (*LoadedPlugin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check if already loaded
	if p, exists := m.plugins[name]; exists {
		return p, nil
	}

	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("%w: invalid plugin name %q", types.ErrInvalidConfig, name)
	}

	pluginPath := filepath.Join(m.pluginsDir, name)
	if _, err := os.Stat(pluginPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: plugin %s in %s", types.ErrNotFound, name, m.pluginsDir)
	}

	slog.Info("loading plugin", "name", name, "path", pluginPath)

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: shared.Handshake,
		Plugins:         shared.PluginMap,
		Cmd:             exec.Command(pluginPath),
		Logger:          m.logger,
		AllowedProtocols: []plugin.Protocol{
			plugin.ProtocolNetRPC,
		},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("%w: connect to plugin %s: %w", types.ErrProviderNotAvailable, name, err)
	}

	raw, err := rpcClient.Dispense(string(shared.PluginTypeEmbedding))
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("%w: dispense plugin %s: %w", types.ErrProviderNotAvailable, name, err)
	}

	embedding, ok := raw.(shared.EmbeddingProvider)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("plugin %s does not implement EmbeddingProvider", name)
	}

	loaded := &LoadedPlugin{
		Name:      name,
		Path:      pluginPath,
		Client:    client,
		Embedding: embedding,
	}
	m.plugins[name] = loaded
	slog.Info("plugin loaded", "name", name, "dimensions", embedding.Dimensions())

	return loaded, nil
}

// UnloadPlugin closes and kills a plugin.
func (m *Manager) UnloadPlugin(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, exists := m.plugins[name]; exists {
		m.shutdown(p)
		delete(m.plugins, name)
	}
}

// UnloadAll unloads all plugins.
func (m *Manager) UnloadAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.plugins {
		m.shutdown(p)
	}
	m.plugins = make(map[string]*LoadedPlugin)
}

func (m *Manager) shutdown(p *LoadedPlugin) {
	if err := p.Embedding.Close(); err != nil {
		slog.Debug("plugin close failed", "name", p.Name, "error", err)
	}
	p.Client.Kill()
	slog.Debug("plugin unloaded", "name", p.Name)
}

// ListLoaded returns the names of loaded plugins, sorted.
func (m *Manager) ListLoaded() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
