// Package deeplink compiles notifications into app URIs, parses URIs back
// into navigation targets and executes navigation against a controller that
// may not be mounted yet.
package deeplink
