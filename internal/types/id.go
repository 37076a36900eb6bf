// README: Shared identifier type used across modules.
package types

// ID is an opaque identifier. Orders, notifications and callers all use it.
type ID string

func (id ID) String() string { return string(id) }
