// Package notify carries the closed set of notification events the core
// emits for external collaborators (sidebar refresh, URL updates, error
// surfacing) over a typed publish/subscribe broadcaster.
package notify
