// Package types defines the core data types shared across the storage
// engine: bar records, asset classes, resolutions, and series identities.
package types
