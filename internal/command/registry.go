package command

import (
	"fmt"
	"sort"

	"github.com/keshon/musicbot/internal/permissions"
)

// Registry stores descriptors by canonical name. It does not dispatch; the
// router looks descriptors up and invokes them with its own context.
type Registry struct {
	commands map[string]*Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Descriptor)}
}

// Register validates d, wraps its handler with mws (first is outermost) and
// stores it.
func (r *Registry) Register(d Descriptor, mws ...Middleware) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, dup := r.commands[d.Name]; dup {
		return fmt.Errorf("command %q already registered", d.Name)
	}
	d.Handler = Apply(d.Handler, mws...)
	r.commands[d.Name] = &d
	return nil
}

// MustRegister is Register for startup code; it panics on error.
func (r *Registry) MustRegister(d Descriptor, mws ...Middleware) {
	if err := r.Register(d, mws...); err != nil {
		panic(err)
	}
}

// Get returns the descriptor with the given name, or nil.
func (r *Registry) Get(name string) *Descriptor {
	return r.commands[name]
}

// All returns all descriptors sorted by name.
func (r *Registry) All() []*Descriptor {
	list := make([]*Descriptor, 0, len(r.commands))
	for _, d := range r.commands {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

// Visible returns the commands a permission set may see, sorted by name. Dev
// commands are never listed. With all set, or a nil set, permissions are
// ignored.
func (r *Registry) Visible(perms *permissions.Set, all bool) []*Descriptor {
	var out []*Descriptor
	for _, d := range r.All() {
		if d.DevOnly {
			continue
		}
		if !all && perms != nil && !perms.Allows(d.Name) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Len returns the number of registered commands.
func (r *Registry) Len() int { return len(r.commands) }
