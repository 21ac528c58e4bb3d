// Package tools defines the fixed catalogue of read-only monitoring
// tools the assistant may call, the gate that checks a requested tool
// against the enabled set, and the executor that performs the call
// against the monitoring service.
package tools

// ID identifies a built-in tool. The set is closed: every ID is bound
// at compile time to its definition and to a branch in
// [Executor.Resolve].
type ID int

const (
	// SystemResources reports CPU, memory, disk, and load average.
	SystemResources ID = iota + 1
	// ListContainers lists Docker containers with state and ports.
	ListContainers
)

// Parameter describes one argument a tool accepts.
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// Definition is the advertised description of a tool. Definitions are
// immutable after process start.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// registry lists every tool in advertisement order.
var registry = []struct {
	id  ID
	def Definition
}{
	{
		id: SystemResources,
		def: Definition{
			Name:        "get_system_resources",
			Description: "Get current system resource usage including CPU, memory, and disk space",
			Parameters:  []Parameter{},
		},
	},
	{
		id: ListContainers,
		def: Definition{
			Name:        "list_containers",
			Description: "List all Docker containers with their current status, image, and port mappings",
			Parameters:  []Parameter{},
		},
	},
}

// All returns every tool ID in advertisement order.
func All() []ID {
	ids := make([]ID, len(registry))
	for i, r := range registry {
		ids[i] = r.id
	}
	return ids
}

// ParseID maps a tool name to its ID. It is the only place a string is
// turned into a tool identity.
func ParseID(name string) (ID, bool) {
	for _, r := range registry {
		if r.def.Name == name {
			return r.id, true
		}
	}
	return 0, false
}

// Definition returns the tool's advertised definition.
func (id ID) Definition() Definition {
	for _, r := range registry {
		if r.id == id {
			return r.def
		}
	}
	return Definition{}
}

// String returns the tool's wire name.
func (id ID) String() string {
	if name := id.Definition().Name; name != "" {
		return name
	}
	return "unknown"
}

// Names returns every registered tool name in advertisement order.
func Names() []string {
	names := make([]string, len(registry))
	for i, r := range registry {
		names[i] = r.def.Name
	}
	return names
}

// Catalogue returns every definition in advertisement order. The
// catalogue is advertised in full on every round-trip regardless of
// which tools are enabled.
func Catalogue() []Definition {
	defs := make([]Definition, len(registry))
	for i, r := range registry {
		defs[i] = r.def
	}
	return defs
}
