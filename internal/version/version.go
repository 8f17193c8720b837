// Package version exposes the build version of the gateway binary.
package version

// Version is overridden at build time via -ldflags.
var Version = "dev"
