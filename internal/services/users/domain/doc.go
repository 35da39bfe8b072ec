// Package domain holds the registry state machine: the root (admin and
// project authority), the user table, and the role membership lists, together
// with every operation that reads or mutates them.
//
// The package is deterministic and performs no I/O. Callers are authenticated
// per operation from a Call value assembled by the hosting layer; every
// authorization check happens before the first mutation, so a failed call
// leaves state untouched.
package domain
