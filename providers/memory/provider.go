// Package memory implements an in-process provider backed by a map. It
// simulates an eventually-consistent cloud backend: resources can take a
// configurable number of reads to become ready, and faults can be injected
// per resource for failure-path testing and local dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/driftwood-io/driftwood/internal/ir"
	"github.com/driftwood-io/driftwood/internal/provider"
)

// Fault configures failure behavior for one resource address (type.name).
type Fault struct {
	// TransientCreates makes the first N create attempts fail retryably.
	TransientCreates int
	// PermanentCreate fails every create attempt non-retryably.
	PermanentCreate bool
	// ReadsUntilReady delays readiness for N reads after create.
	ReadsUntilReady int
	// FailDelete fails delete attempts non-retryably.
	FailDelete bool
}

type object struct {
	typ       string
	name      string
	attrs     map[string]any
	readsLeft int
}

type Provider struct {
	mu            sync.Mutex
	seq           int
	objects       map[string]*object // by provider-assigned id
	byName        map[string]string  // type.name -> id
	faults        map[string]*Fault
	metrics       map[string]float64
	memberMetrics map[string]map[string]float64
	health        map[string][]ir.HealthSignal
}

func New() *Provider {
	return &Provider{
		objects: make(map[string]*object),
		byName:  make(map[string]string),
		faults:  make(map[string]*Fault),
	}
}

// InjectFault attaches failure behavior to a resource address (type.name).
func (p *Provider) InjectFault(addr string, f *Fault) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults[addr] = f
}

// schemas lists immutable attributes per web-tier resource type. Changing
// one forces destroy-and-recreate.
var schemas = map[string]map[string]bool{
	"network.SecurityGroup":  {"ingress": true},
	"compute.LaunchTemplate": {"ami": true},
	"compute.Instance":       {"launchTemplate": true, "subnet": true},
	"lb.LoadBalancer":        {"scheme": true},
	"lb.TargetGroup":         {"port": true, "protocol": true, "vpc": true},
}

func (p *Provider) Schema(resourceType string) (*provider.Schema, error) {
	return &provider.Schema{
		Type:      resourceType,
		Immutable: schemas[resourceType],
	}, nil
}

func (p *Provider) Create(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	addr := req.Type + "." + req.Name
	if f := p.faults[addr]; f != nil {
		if f.PermanentCreate {
			return nil, fmt.Errorf("create %s rejected by backend", addr)
		}
		if f.TransientCreates > 0 {
			f.TransientCreates--
			return nil, fmt.Errorf("create %s throttled, too many requests", addr)
		}
	}

	p.seq++
	id := fmt.Sprintf("mem-%s-%04d", req.Name, p.seq)

	readsLeft := 0
	if f := p.faults[addr]; f != nil {
		readsLeft = f.ReadsUntilReady
	}
	p.objects[id] = &object{
		typ:       req.Type,
		name:      req.Name,
		attrs:     copyAttrs(req.Attributes),
		readsLeft: readsLeft,
	}
	p.byName[addr] = id

	return &provider.CreateResponse{
		ID:      id,
		Outputs: outputsFor(id, req.Attributes),
	}, nil
}

func (p *Provider) Update(ctx context.Context, req *provider.UpdateRequest) (*provider.UpdateResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	obj, ok := p.objects[req.ID]
	if !ok {
		return nil, fmt.Errorf("update %s.%s: id %s not found", req.Type, req.Name, req.ID)
	}
	obj.attrs = copyAttrs(req.Attributes)

	return &provider.UpdateResponse{
		Outputs: outputsFor(req.ID, req.Attributes),
	}, nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	obj, ok := p.objects[req.ID]
	if !ok {
		return nil // already gone
	}
	addr := obj.typ + "." + obj.name
	if f := p.faults[addr]; f != nil && f.FailDelete {
		return fmt.Errorf("delete %s rejected by backend", addr)
	}
	delete(p.objects, req.ID)
	if p.byName[addr] == req.ID {
		delete(p.byName, addr)
	}
	return nil
}

func (p *Provider) Read(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	obj, ok := p.objects[req.ID]
	if !ok {
		return &provider.ReadResponse{Exists: false}, nil
	}
	if obj.readsLeft > 0 {
		obj.readsLeft--
		return &provider.ReadResponse{Exists: true, Ready: false}, nil
	}
	return &provider.ReadResponse{
		Exists:  true,
		Ready:   true,
		Outputs: outputsFor(req.ID, obj.attrs),
	}, nil
}

// Live reports whether an object with the given id currently exists.
func (p *Provider) Live(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.objects[id]
	return ok
}

// LiveCount returns the number of objects of a type currently provisioned.
func (p *Provider) LiveCount(resourceType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, obj := range p.objects {
		if obj.typ == resourceType {
			n++
		}
	}
	return n
}

func outputsFor(id string, attrs map[string]any) map[string]any {
	out := copyAttrs(attrs)
	out["id"] = id
	return out
}

func copyAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
