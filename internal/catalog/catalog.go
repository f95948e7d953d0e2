package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/linasec/lina/internal/logger"
)

// ErrUnknownTool is returned when a tool identifier is not in the registry
var ErrUnknownTool = errors.New("catalog: unknown tool")

// ToolDescriptor describes one security tool. Immutable after load.
type ToolDescriptor struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name,omitempty"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	// Binary is the executable checked by the install probe; defaults to Name
	Binary string `json:"binary,omitempty"`
	// Templates are example command templates with {placeholder} slots
	Templates []string `json:"templates,omitempty"`
	RiskNotes string   `json:"risk_notes,omitempty"`
	// TimeoutSeconds overrides the default execution timeout when > 0
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// ProbeBinary returns the executable name the install probe should look up
func (d *ToolDescriptor) ProbeBinary() string {
	if d.Binary != "" {
		return d.Binary
	}
	return d.Name
}

// Catalog is a read-mostly registry of tool descriptors loaded from a JSON
// file. The file may be edited while the server runs; a watcher reloads it.
type Catalog struct {
	registryPath  string
	registriesDir string

	mu    sync.RWMutex
	tools map[string]*ToolDescriptor
	order []string

	probe   *Probe
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Load reads the tool registry from registryPath. registriesDir holds the
// per-tool parameter registries consumed by the command composer.
func Load(registryPath, registriesDir string, probeTTL time.Duration) (*Catalog, error) {
	c := &Catalog{
		registryPath:  registryPath,
		registriesDir: registriesDir,
		probe:         NewProbe(probeTTL),
		done:          make(chan struct{}),
	}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) reload() error {
	data, err := os.ReadFile(c.registryPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("catalog: no tool registry at %s, starting empty", c.registryPath)
			c.mu.Lock()
			c.tools = make(map[string]*ToolDescriptor)
			c.order = nil
			c.mu.Unlock()
			return nil
		}
		return fmt.Errorf("failed to read tool registry %s: %w", c.registryPath, err)
	}

	var entries []*ToolDescriptor
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse tool registry %s: %w", c.registryPath, err)
	}

	tools := make(map[string]*ToolDescriptor, len(entries))
	order := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := strings.ToLower(strings.TrimSpace(entry.Name))
		if name == "" {
			continue
		}
		entry.Name = name
		if _, dup := tools[name]; dup {
			logger.Warn("catalog: duplicate tool %q in registry, keeping first", name)
			continue
		}
		tools[name] = entry
		order = append(order, name)
	}

	c.mu.Lock()
	c.tools = tools
	c.order = order
	c.mu.Unlock()

	logger.Info("catalog: loaded %d tools from %s", len(order), c.registryPath)
	return nil
}

// Watch reloads the registry whenever the file changes. Call Close to stop.
func (c *Catalog) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create registry watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(c.registryPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch registry directory: %w", err)
	}
	c.watcher = watcher

	go func() {
		for {
			select {
			case <-c.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != c.registryPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := c.reload(); err != nil {
					logger.Error("catalog: reload after change failed: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("catalog: watcher error: %v", err)
			}
		}
	}()

	return nil
}

// Close stops the registry watcher
func (c *Catalog) Close() error {
	close(c.done)
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

// Get returns the descriptor for the given tool identifier
func (c *Catalog) Get(name string) (*ToolDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tool, ok := c.tools[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool, nil
}

// Has reports whether the tool identifier is registered
func (c *Catalog) Has(name string) bool {
	_, err := c.Get(name)
	return err == nil
}

// List returns all descriptors in registry order
func (c *Catalog) List() []*ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*ToolDescriptor, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.tools[name])
	}
	return out
}

// Names returns all registered tool identifiers in registry order
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Categories returns the sorted set of tool categories
func (c *Catalog) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	set := make(map[string]struct{})
	for _, tool := range c.tools {
		if tool.Category != "" {
			set[tool.Category] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for cat := range set {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// Installed reports whether the tool's binary is present, via the cached
// install probe.
func (c *Catalog) Installed(name string) bool {
	tool, err := c.Get(name)
	if err != nil {
		return false
	}
	return c.probe.Installed(tool.ProbeBinary())
}

// ParameterRegistry loads the detailed parameter registry for a tool as raw
// JSON. Missing registries are a normal condition: the composer falls back
// to the descriptor's templates.
func (c *Catalog) ParameterRegistry(name string) (json.RawMessage, error) {
	tool, err := c.Get(name)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(c.registriesDir, tool.Name+"_registry.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read parameter registry %s: %w", path, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid JSON in parameter registry %s", path)
	}
	return json.RawMessage(data), nil
}
