package txmanager

import "strings"

// Propagation decides what WithinTx does when the context already carries an
// active scope opened by the same driver.
type Propagation int

const (
	// PropagationDefault defers to the manager configuration.
	PropagationDefault Propagation = iota
	// PropagationRequired joins the enclosing transaction. A failing inner call
	// marks the whole scope rollback-only.
	PropagationRequired
	// PropagationNested opens a savepoint inside the enclosing transaction.
	PropagationNested
	// PropagationRequiresNew opens an independent transaction on a separate
	// connection.
	PropagationRequiresNew
	// PropagationNever refuses to run inside an enclosing transaction.
	PropagationNever
)

func (p Propagation) String() string {
	switch p {
	case PropagationRequired:
		return "required"
	case PropagationNested:
		return "nested"
	case PropagationRequiresNew:
		return "requires_new"
	case PropagationNever:
		return "never"
	default:
		return "default"
	}
}

// ParsePropagation converts a configuration value into a Propagation. Unknown
// values fall back to PropagationRequired.
func ParsePropagation(value string) Propagation {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "nested", "savepoint":
		return PropagationNested
	case "requires_new", "requires-new", "new":
		return PropagationRequiresNew
	case "never":
		return PropagationNever
	default:
		return PropagationRequired
	}
}
