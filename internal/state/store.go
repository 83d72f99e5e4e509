package state

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftwood-io/driftwood/internal/ir"
)

// Store is the in-memory authoritative record set for last-applied resource
// state. Each record is guarded by a per-resource lock so "diff read ->
// apply -> state write" is atomic per resource; global consistency across
// resources is not required.
type Store struct {
	mu        sync.RWMutex
	resources map[string]*ir.ResourceState
	locks     map[string]*sync.Mutex

	version int
	serial  int
	lineage string
	outputs map[string]any
}

// NewStore builds a Store from a loaded state snapshot. A nil snapshot
// yields a fresh store with a new lineage.
func NewStore(st *ir.State) *Store {
	s := &Store{
		resources: make(map[string]*ir.ResourceState),
		locks:     make(map[string]*sync.Mutex),
		version:   1,
	}
	if st == nil {
		s.lineage = uuid.NewString()
		return s
	}
	s.version = st.Version
	s.serial = st.Serial
	s.lineage = st.Lineage
	if s.lineage == "" {
		s.lineage = uuid.NewString()
	}
	s.outputs = st.Outputs
	for _, res := range st.Resources {
		s.resources[res.Addr()] = res
	}
	return s
}

// LockResource acquires the per-resource lock for addr and returns the
// unlock function.
func (s *Store) LockResource(addr string) func() {
	s.mu.Lock()
	l, ok := s.locks[addr]
	if !ok {
		l = &sync.Mutex{}
		s.locks[addr] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Get returns the record for addr, if present.
func (s *Store) Get(addr string) (*ir.ResourceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.resources[addr]
	return rec, ok
}

// Put stores a record, stamping its apply time.
func (s *Store) Put(rec *ir.ResourceState) {
	if rec.AppliedAt.IsZero() {
		rec.AppliedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[rec.Addr()] = rec
}

// Remove deletes the record for addr.
func (s *Store) Remove(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, addr)
}

// Resolve looks up an output (falling back to inputs) of a recorded
// resource, for reference resolution at apply time.
func (s *Store) Resolve(addr, attr string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.resources[addr]
	if !ok {
		return nil, false
	}
	if v, ok := rec.Outputs[attr]; ok {
		return v, true
	}
	if v, ok := rec.Inputs[attr]; ok {
		return v, true
	}
	return nil, false
}

// List returns all records sorted by address.
func (s *Store) List() []*ir.ResourceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ir.ResourceState, 0, len(s.resources))
	for _, rec := range s.resources {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr() < out[j].Addr() })
	return out
}

// SetOutputs replaces the root-level outputs.
func (s *Store) SetOutputs(outputs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = outputs
}

// Snapshot renders the store as a serializable state, bumping the serial.
func (s *Store) Snapshot() *ir.State {
	s.mu.Lock()
	s.serial++
	serial := s.serial
	s.mu.Unlock()

	return &ir.State{
		Version:   s.version,
		Serial:    serial,
		Lineage:   s.lineage,
		Resources: s.List(),
		Outputs:   s.outputs,
	}
}
