// Package identity carries the authenticated user reference used as the
// addressing key for all routing. Identities are issued by the auth service
// and immutable for the lifetime of a session.
package identity

type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
