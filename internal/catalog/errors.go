package catalog

import "errors"

var (
	// ErrPluginNotFound is returned when a requested plugin id is not in the catalog.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrUnknownCategory is returned when a category id or name cannot be resolved.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrUpstreamUnavailable is returned when the remote content system cannot be reached
	// or returns something unusable.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMalformedCatalog is returned when the plugin store violates a loader precondition.
	ErrMalformedCatalog = errors.New("malformed catalog")
)
