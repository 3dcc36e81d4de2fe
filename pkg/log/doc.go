// Package log provides structured logging for Nightfleet built on zerolog.
//
// Call Init once at process start, then use the package-level helpers or
// derive child loggers with WithComponent, WithWorkerID, WithChallenge and
// WithAddress. Fleet nodes log JSON to stderr for log shipping; operator
// commands use the console writer.
package log
