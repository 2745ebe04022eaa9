package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/planweave/planweave/pkg/schema"
)

// filePlanSource serves plans loaded from *.json files in a directory.
// It backs the orchestrator's plan lookups and the scheduler's job list.
type filePlanSource struct {
	mu    sync.RWMutex
	plans map[string]*schema.ExecutionPlan
}

func newFilePlanSource() *filePlanSource {
	return &filePlanSource{plans: make(map[string]*schema.ExecutionPlan)}
}

// LoadDir reads every *.json file in dir into the source. A missing
// directory is not an error: the server can run on API-submitted plans
// alone. Returns the number of plans loaded.
func (f *filePlanSource) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read plans dir %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return loaded, fmt.Errorf("read plan file %s: %w", path, err)
		}
		var plan schema.ExecutionPlan
		if err := json.Unmarshal(data, &plan); err != nil {
			return loaded, fmt.Errorf("parse plan file %s: %w", path, err)
		}
		if plan.ID == "" {
			plan.ID = strings.TrimSuffix(entry.Name(), ".json")
		}
		f.mu.Lock()
		f.plans[plan.ID] = &plan
		f.mu.Unlock()
		loaded++
	}
	return loaded, nil
}

func (f *filePlanSource) GetPlan(_ context.Context, id string) (*schema.ExecutionPlan, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if p, ok := f.plans[id]; ok {
		return p, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "plan %s not found", id)
}

func (f *filePlanSource) FindByWebhookPath(_ context.Context, path string) (*schema.ExecutionPlan, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.plans {
		if p.Enabled && p.Trigger != nil && p.Trigger.WebhookPath == path {
			return p, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no plan bound to webhook %s", path)
}

// All returns the loaded plans sorted by ID.
func (f *filePlanSource) All() []*schema.ExecutionPlan {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*schema.ExecutionPlan, 0, len(f.plans))
	for _, p := range f.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
