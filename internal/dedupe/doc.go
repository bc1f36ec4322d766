// Package dedupe provides submission deduplication using a time-window
// cache so duplicate sends from the caller are absorbed silently.
package dedupe
