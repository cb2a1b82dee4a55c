package strategy

import (
	"fmt"
	"maps"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// verboseKey is stripped from caller args; verbosity arrives through Settings.
const verboseKey = "verbose"

type extractionEntry struct {
	desc    Descriptor
	factory ExtractionFactory
}

type chunkingEntry struct {
	desc    Descriptor
	factory ChunkingFactory
}

// Registry maps strategy names to factories. Registration happens during
// startup; resolution is safe for concurrent use afterwards.
type Registry struct {
	mu         sync.RWMutex
	extraction map[string]extractionEntry
	chunking   map[string]chunkingEntry
	logger     *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		extraction: make(map[string]extractionEntry),
		chunking:   make(map[string]chunkingEntry),
		logger:     logger,
	}
}

// RegisterExtraction adds a named extraction factory.
func (r *Registry) RegisterExtraction(desc Descriptor, factory ExtractionFactory) error {
	if desc.Name == "" || factory == nil {
		return fmt.Errorf("extraction strategy requires a name and factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.extraction[desc.Name]; ok {
		return fmt.Errorf("extraction strategy %q already registered", desc.Name)
	}
	desc.Kind = KindExtraction
	r.extraction[desc.Name] = extractionEntry{desc: desc, factory: factory}
	return nil
}

// RegisterChunking adds a named chunking factory.
func (r *Registry) RegisterChunking(desc Descriptor, factory ChunkingFactory) error {
	if desc.Name == "" || factory == nil {
		return fmt.Errorf("chunking strategy requires a name and factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chunking[desc.Name]; ok {
		return fmt.Errorf("chunking strategy %q already registered", desc.Name)
	}
	desc.Kind = KindChunking
	r.chunking[desc.Name] = chunkingEntry{desc: desc, factory: factory}
	return nil
}

// ResolveExtraction builds a fresh extraction strategy.
func (r *Registry) ResolveExtraction(name string, args Args, verbose bool) (ExtractionStrategy, error) {
	r.mu.RLock()
	entry, ok := r.extraction[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Kind: KindExtraction, Name: name}
	}
	s, err := entry.factory(sanitize(args), r.settings(KindExtraction, name, verbose))
	if err != nil {
		return nil, &ConstructionError{Kind: KindExtraction, Name: name, Err: err}
	}
	return s, nil
}

// ResolveChunking builds a fresh chunking strategy.
func (r *Registry) ResolveChunking(name string, args Args, verbose bool) (ChunkingStrategy, error) {
	r.mu.RLock()
	entry, ok := r.chunking[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Kind: KindChunking, Name: name}
	}
	s, err := entry.factory(sanitize(args), r.settings(KindChunking, name, verbose))
	if err != nil {
		return nil, &ConstructionError{Kind: KindChunking, Name: name, Err: err}
	}
	return s, nil
}

// Resolve dispatches on kind. The returned value implements
// ExtractionStrategy or ChunkingStrategy.
func (r *Registry) Resolve(kind Kind, name string, args Args, verbose bool) (any, error) {
	switch kind {
	case KindExtraction:
		return r.ResolveExtraction(name, args, verbose)
	case KindChunking:
		return r.ResolveChunking(name, args, verbose)
	default:
		return nil, &NotFoundError{Kind: kind, Name: name}
	}
}

// Descriptors lists the registered strategies of kind sorted by name.
func (r *Registry) Descriptors(kind Kind) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Descriptor
	switch kind {
	case KindExtraction:
		for _, e := range r.extraction {
			out = append(out, e.desc)
		}
	case KindChunking:
		for _, e := range r.chunking {
			out = append(out, e.desc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) settings(kind Kind, name string, verbose bool) Settings {
	return Settings{
		Verbose: verbose,
		Logger:  r.logger.With(zap.String("strategy_kind", string(kind)), zap.String("strategy", name)),
	}
}

// sanitize copies args so the caller's map is never mutated.
func sanitize(args Args) Args {
	out := make(Args, len(args))
	maps.Copy(out, args)
	delete(out, verboseKey)
	return out
}
