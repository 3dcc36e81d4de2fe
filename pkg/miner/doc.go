// Package miner wraps the external native miner binary. Each work item
// becomes one subprocess invocation: challenge parameters go in as flags,
// one JSON result object comes back on stdout. Cancelling the context
// sends SIGTERM and gives the child a grace period before SIGKILL, which
// is how in-flight work is aborted when its challenge expires.
package miner
