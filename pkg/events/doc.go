// Package events is the in-process broker for mining lifecycle events.
// Components publish fire-and-forget; slow subscribers drop events rather
// than stall the miners. Today's consumers are the worker's debug log
// stream and tests asserting on lifecycle ordering.
package events
