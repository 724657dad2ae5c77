// Package store defines the persistence contracts shared by the Postgres and
// in-memory event log implementations.
package store
