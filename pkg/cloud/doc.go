// Package cloud holds the compute-provider capabilities the coordinator
// consumes: instance metadata (who am I, which region) and the minimal
// control-plane surface for peer discovery and fleet scaling. Both are
// small interfaces so tests can inject static or fake providers.
package cloud
