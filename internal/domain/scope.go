package domain

// Scope — уровень прав, определяемый тем, каким токеном пришёл запрос.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
)

// CanWrite reports whether the scope allows state-mutating tools.
func (s Scope) CanWrite() bool { return s == ScopeWrite }
