package ipc

// A StringList accumulates interface names during enumeration.  Empty
// names are dropped at the door so the flattened form stays parseable.
type StringList struct {
	names []string
}

// Add appends name to the list unless it is empty.
func (l *StringList) Add(name string) {
	if name == "" {
		return
	}
	l.names = append(l.names, name)
}

// Strings returns the accumulated names in insertion order.
func (l *StringList) Strings() []string {
	return l.names
}

// Flatten renders the list in its NUL-separated wire form: each name
// followed by a NUL, with an extra NUL closing the list ("a\x00b\x00\x00").
func (l *StringList) Flatten() []byte {
	n := 1
	for _, name := range l.names {
		n += len(name) + 1
	}

	out := make([]byte, 0, n)
	for _, name := range l.names {
		out = append(out, name...)
		out = append(out, 0)
	}
	return append(out, 0)
}
