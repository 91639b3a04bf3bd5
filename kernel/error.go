package kernel

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure. This requirement stems
// from the fact that the Go allocator is not available while the memory
// subsystem boots so we cannot use errors.New.
//
// Errors fall into two groups. Errors returned to the caller report missing
// boot metadata or exhausted resources and the caller decides whether they
// are fatal. Errors passed to panic report a broken invariant (double map,
// double free and so on); each condition has its own variable so the
// condition that fired can be identified after the fact.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
