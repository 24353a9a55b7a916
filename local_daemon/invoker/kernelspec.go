package invoker

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/elliotchance/orderedmap/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
	"github.com/scusemua/notebook-kernel-manager/common/utils"
)

const (
	KernelSpecFile       = "kernel.json"
	ConnectionFileMarker = "{connection_file}"
	ResourceDirMarker    = "{resource_dir}"
	kernelsDir           = "kernels"
)

// KernelSpec is an installed kernel type, as described by its kernel.json.
type KernelSpec struct {
	Name          string                 `json:"-"`
	ResourceDir   string                 `json:"-"`
	Argv          []string               `json:"argv"`
	DisplayName   string                 `json:"display_name"`
	Language      string                 `json:"language"`
	Env           map[string]string      `json:"env,omitempty"`
	InterruptMode string                 `json:"interrupt_mode,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

func (spec *KernelSpec) String() string {
	return spec.Name + " (" + spec.DisplayName + ")"
}

// KernelSpecResolver looks up kernel specs by name.
type KernelSpecResolver interface {
	Get(name string) (*KernelSpec, error)
}

// JupyterDataDirs returns the kernel spec search path, highest priority first, following the
// conventions of jupyter_core: $JUPYTER_PATH, the user data dir, then the system data dirs.
func JupyterDataDirs() []string {
	var dirs []string

	if jupyterPath := os.Getenv("JUPYTER_PATH"); jupyterPath != "" {
		for _, dir := range filepath.SplitList(jupyterPath) {
			if dir != "" {
				dirs = append(dirs, dir)
			}
		}
	}

	if dataDir := os.Getenv("JUPYTER_DATA_DIR"); dataDir != "" {
		dirs = append(dirs, dataDir)
	} else if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			dirs = append(dirs, filepath.Join(home, "Library", "Jupyter"))
		} else {
			dirs = append(dirs, filepath.Join(utils.GetEnv("XDG_DATA_HOME", filepath.Join(home, ".local", "share")), "jupyter"))
		}
	}

	return append(dirs, "/usr/local/share/jupyter", "/usr/share/jupyter")
}

// KernelSpecManager discovers the kernel specs installed in a set of Jupyter data directories.
// Results are cached until one of the watched directories changes.
type KernelSpecManager struct {
	dataDirs []string

	mu      sync.Mutex
	specs   *orderedmap.OrderedMap[string, *KernelSpec]
	stale   bool
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once

	log logger.Logger
}

// NewKernelSpecManager creates a manager searching the given data directories, highest priority
// first. If none are given, JupyterDataDirs is used.
func NewKernelSpecManager(dataDirs ...string) *KernelSpecManager {
	if len(dataDirs) == 0 {
		dataDirs = JupyterDataDirs()
	}

	manager := &KernelSpecManager{
		dataDirs: dataDirs,
		specs:    orderedmap.NewOrderedMap[string, *KernelSpec](),
		stale:    true,
		done:     make(chan struct{}),
	}
	config.InitLogger(&manager.log, manager)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		manager.log.Warn("Kernel spec changes will not be detected, failed to create watcher: %v", err)
	} else {
		manager.watcher = watcher
		go manager.watch()
	}

	return manager
}

// Get returns the kernel spec with the given name.
func (m *KernelSpecManager) Get(name string) (*KernelSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshLocked()

	spec, ok := m.specs.Get(strings.ToLower(name))
	if !ok {
		return nil, errors.Wrapf(jupyter.ErrKernelSpecNotFound, "\"%s\"", name)
	}
	return spec, nil
}

// List returns every discovered kernel spec, in search path order.
func (m *KernelSpecManager) List() []*KernelSpec {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshLocked()

	specs := make([]*KernelSpec, 0, m.specs.Len())
	for el := m.specs.Front(); el != nil; el = el.Next() {
		specs = append(specs, el.Value)
	}
	return specs
}

// Invalidate drops the cache. The next lookup rescans the data directories.
func (m *KernelSpecManager) Invalidate() {
	m.mu.Lock()
	m.stale = true
	m.mu.Unlock()
}

func (m *KernelSpecManager) Close() error {
	if m.watcher == nil {
		return nil
	}

	var err error
	m.once.Do(func() {
		close(m.done)
		err = m.watcher.Close()
	})
	return err
}

func (m *KernelSpecManager) refreshLocked() {
	if !m.stale {
		return
	}

	specs := orderedmap.NewOrderedMap[string, *KernelSpec]()
	for _, dataDir := range m.dataDirs {
		root := filepath.Join(dataDir, kernelsDir)
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		m.addWatch(root)

		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			name := strings.ToLower(entry.Name())
			if _, exists := specs.Get(name); exists {
				// Earlier directories take precedence.
				continue
			}

			resourceDir := filepath.Join(root, entry.Name())
			m.addWatch(resourceDir)

			spec, err := readKernelSpec(name, resourceDir)
			if err != nil {
				m.log.Warn("Skipping kernel spec \"%s\": %v", resourceDir, err)
				continue
			}
			specs.Set(name, spec)
		}
	}

	m.log.Debug("Discovered %d kernel spec(s): %v", specs.Len(), specs.Keys())
	m.specs = specs
	m.stale = false
}

func (m *KernelSpecManager) addWatch(dir string) {
	if m.watcher == nil {
		return
	}
	if err := m.watcher.Add(dir); err != nil {
		m.log.Debug("Cannot watch \"%s\": %v", dir, err)
	}
}

func (m *KernelSpecManager) watch() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.log.Debug("Kernel spec directory changed (%s), invalidating cache.", event.String())
			m.Invalidate()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn("Kernel spec watcher error: %v", err)
			m.Invalidate()
		case <-m.done:
			return
		}
	}
}

func readKernelSpec(name string, resourceDir string) (*KernelSpec, error) {
	data, err := os.ReadFile(filepath.Join(resourceDir, KernelSpecFile))
	if err != nil {
		return nil, err
	}

	spec := &KernelSpec{}
	if err := json.Unmarshal(data, spec); err != nil {
		return nil, errors.Wrapf(err, "malformed %s", KernelSpecFile)
	}
	if len(spec.Argv) == 0 {
		return nil, errors.Errorf("%s has an empty argv", KernelSpecFile)
	}

	spec.Name = name
	spec.ResourceDir = resourceDir
	if spec.DisplayName == "" {
		spec.DisplayName = name
	}
	return spec, nil
}
