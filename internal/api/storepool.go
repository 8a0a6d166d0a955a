package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/marcus/gridsync/internal/store"
)

var (
	errInvalidName   = errors.New("invalid dataset name")
	errDatasetExists = errors.New("dataset already exists")
	errNoDataset     = errors.New("dataset not found")
)

var datasetNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// StorePool manages per-dataset SQLite stores.
type StorePool struct {
	mu      sync.RWMutex
	stores  map[string]*store.Store
	dataDir string
}

// NewStorePool creates a new pool that stores dataset databases under dataDir.
func NewStorePool(dataDir string) *StorePool {
	return &StorePool{
		stores:  make(map[string]*store.Store),
		dataDir: dataDir,
	}
}

func (p *StorePool) path(name string) string {
	return filepath.Join(p.dataDir, name+".db")
}

// Get returns the store for the given dataset, opening it lazily.
func (p *StorePool) Get(name string) (*store.Store, error) {
	if !datasetNameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", errInvalidName, name)
	}
	p.mu.RLock()
	s, ok := p.stores[name]
	p.mu.RUnlock()
	if ok {
		return s, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if s, ok := p.stores[name]; ok {
		return s, nil
	}

	dbPath := p.path(name)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", errNoDataset, name)
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	p.stores[name] = s
	return s, nil
}

// Create creates a new dataset with the given fields.
func (p *StorePool) Create(ctx context.Context, name string, defs []store.FieldDef) (*store.Store, error) {
	if !datasetNameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", errInvalidName, name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	dbPath := p.path(name)
	if _, ok := p.stores[name]; ok {
		return nil, fmt.Errorf("%w: %s", errDatasetExists, name)
	}
	if _, err := os.Stat(dbPath); err == nil {
		return nil, fmt.Errorf("%w: %s", errDatasetExists, name)
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := s.AddFields(ctx, defs...); err != nil {
		s.Close()
		os.Remove(dbPath)
		return nil, err
	}
	p.stores[name] = s
	return s, nil
}

// List returns the names of every dataset on disk.
func (p *StorePool) List() ([]string, error) {
	entries, err := os.ReadDir(p.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	var names []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".db")
		if ok && !e.IsDir() && datasetNameRe.MatchString(name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// Ping checks every open store.
func (p *StorePool) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for name, s := range p.stores {
		if err := s.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// CloseAll closes all open dataset stores.
func (p *StorePool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, s := range p.stores {
		s.Close()
		delete(p.stores, name)
	}
}
