// Package users contains the internal service boundary for the overlay role
// registry.
//
// The registry tracks which accounts hold the curator and validator roles,
// records the project associations those roles earn, and gates every mutation
// behind the registry admin, the configured project authority, or the
// deployment owner.
package users
