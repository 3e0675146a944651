// Package configstore loads the persisted ansible-toolbox configuration from
// an XDG-compliant location. Project sections, keyed by absolute directory,
// layer on top of the global section; command-line flags layer on top of both
// and are applied by the caller.
package configstore
