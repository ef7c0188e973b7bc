package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/leadkit/automation/internal/automation"
	"github.com/leadkit/automation/internal/event"
)

// fileDoc is the top-level YAML structure of an automations file.
type fileDoc struct {
	Automations []*automation.Automation `yaml:"automations"`
}

// FileRegistry serves automation definitions from a YAML file. It is
// read-only from the management API's perspective; edits happen on disk and
// are hot-reloaded. Intended for development and single-node deployments
// without a database.
type FileRegistry struct {
	path    string
	mu      sync.RWMutex
	current []*automation.Automation
}

// NewFileRegistry loads and validates the automations file at path.
func NewFileRegistry(path string) (*FileRegistry, error) {
	r := &FileRegistry{path: path}
	autos, err := r.load()
	if err != nil {
		return nil, err
	}
	r.current = autos
	return r, nil
}

func (r *FileRegistry) load() ([]*automation.Automation, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read automations %s: %w", r.path, err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse automations %s: %w", r.path, err)
	}

	seen := make(map[int64]struct{}, len(doc.Automations))
	for _, a := range doc.Automations {
		if a.ID == 0 {
			return nil, fmt.Errorf("automations %s: every automation needs a nonzero id", r.path)
		}
		if _, ok := seen[a.ID]; ok {
			return nil, fmt.Errorf("automations %s: duplicate id %d", r.path, a.ID)
		}
		seen[a.ID] = struct{}{}
		if err := automation.Validate(a); err != nil {
			return nil, fmt.Errorf("automations %s: id %d: %w", r.path, a.ID, err)
		}
	}

	sort.Slice(doc.Automations, func(i, j int) bool {
		return doc.Automations[i].ID < doc.Automations[j].ID
	})
	return doc.Automations, nil
}

// Watch hot-reloads the file on changes. Invalid files are skipped with a
// warning and the previous snapshot stays in effect. Call the returned stop
// function to clean up.
func (r *FileRegistry) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("automations watcher: %w", err)
	}
	if err := w.Add(r.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("automations watcher add %s: %w", r.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					autos, err := r.load()
					if err != nil {
						slog.Warn("automations reload skipped", "path", r.path, "err", err)
						continue
					}
					r.mu.Lock()
					r.current = autos
					r.mu.Unlock()
					slog.Info("automations reloaded", "path", r.path, "count", len(autos))
				}
			case <-w.Errors:
				// Ignore watcher errors; the next write still fires.
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

// Reload forces an immediate re-read of the automations file.
func (r *FileRegistry) Reload() error {
	autos, err := r.load()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.current = autos
	r.mu.Unlock()
	return nil
}

func (r *FileRegistry) snapshot() []*automation.Automation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *FileRegistry) ListActive(ctx context.Context, trigger event.TriggerType, campaignID int64) ([]*automation.Automation, error) {
	var out []*automation.Automation
	for _, a := range r.snapshot() {
		if !a.IsActive || a.TriggerType != trigger {
			continue
		}
		if a.CampaignID != nil && *a.CampaignID != campaignID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *FileRegistry) List(ctx context.Context, campaignID int64) ([]*automation.Automation, error) {
	var out []*automation.Automation
	for _, a := range r.snapshot() {
		if campaignID != 0 && (a.CampaignID == nil || *a.CampaignID != campaignID) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *FileRegistry) Get(ctx context.Context, id int64) (*automation.Automation, error) {
	for _, a := range r.snapshot() {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, ErrNotFound
}

func (r *FileRegistry) Create(ctx context.Context, a *automation.Automation) error { return ErrReadOnly }
func (r *FileRegistry) Update(ctx context.Context, a *automation.Automation) error { return ErrReadOnly }
func (r *FileRegistry) Delete(ctx context.Context, id int64) error                 { return ErrReadOnly }
func (r *FileRegistry) SetActive(ctx context.Context, id int64, active bool) error { return ErrReadOnly }
