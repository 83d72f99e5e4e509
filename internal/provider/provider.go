package provider

import "context"

// Interface is the contract a resource provider implements. The engine treats
// it as an at-least-once, eventually-consistent backend: Create/Update may
// return before the resource is ready, and Read reports readiness.
type Interface interface {
	// Schema describes a resource type, in particular which attributes
	// cannot be changed in place.
	Schema(resourceType string) (*Schema, error)

	// Create provisions a new resource and returns its provider-assigned id
	// along with any computed outputs.
	Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error)

	// Update changes mutable attributes of an existing resource in place.
	Update(ctx context.Context, req *UpdateRequest) (*UpdateResponse, error)

	// Delete removes a resource by provider-assigned id. Deleting a resource
	// that no longer exists is not an error.
	Delete(ctx context.Context, req *DeleteRequest) error

	// Read returns current existence, readiness, and outputs for a resource.
	Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error)
}

// Schema describes a resource type.
type Schema struct {
	Type string
	// Immutable attributes force destroy-and-recreate when changed.
	Immutable map[string]bool
}

// ForcesReplacement reports whether changing attr requires replacement.
func (s *Schema) ForcesReplacement(attr string) bool {
	return s != nil && s.Immutable[attr]
}

type CreateRequest struct {
	Type       string
	Name       string
	Attributes map[string]any
}

type CreateResponse struct {
	ID      string
	Outputs map[string]any
}

type UpdateRequest struct {
	Type       string
	Name       string
	ID         string
	Attributes map[string]any
	Prior      map[string]any
}

type UpdateResponse struct {
	Outputs map[string]any
}

type DeleteRequest struct {
	Type string
	ID   string
}

type ReadRequest struct {
	Type string
	ID   string
}

type ReadResponse struct {
	Exists  bool
	Ready   bool
	Outputs map[string]any
}
