package domain

// Actor identifies the authenticated user performing an operation.
type Actor struct {
	ID   string
	Role UserRole
}
