// Package config loads fleet configuration in layers: built-in defaults,
// an optional YAML file, a .env file, then NIGHTFLEET_* environment
// variables. Later layers win, so a unit file's environment overrides
// anything baked into the image.
package config
