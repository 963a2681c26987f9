// Package required checks that a data bag carries a fixed set of named keys.
// Models use it to guard Populate and the db layer uses it to validate
// connection parameters before a connection is ever attempted.
package required

// Params is an ordered list of required key names.
type Params []string

// New stores the exact ordered list of required names.
func New(names ...string) Params {
	p := make(Params, len(names))
	copy(p, names)
	return p
}

// Names returns a copy of the required names in declaration order.
func (p Params) Names() []string {
	out := make([]string, len(p))
	copy(out, p)
	return out
}

// Missing returns the required names absent from data, in declaration order.
// Extra keys in data are ignored.
func Missing[V any](p Params, data map[string]V) []string {
	var missing []string
	for _, name := range p {
		if _, ok := data[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Has reports whether every required name is a key of data.
func Has[V any](p Params, data map[string]V) bool {
	return len(Missing(p, data)) == 0
}
