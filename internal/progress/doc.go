// Package progress holds the domain model for the import progress pipeline:
// the ProgressEvent wire/storage type, its lifecycle status enumeration, and
// the read-only Job view this service observes.
package progress
