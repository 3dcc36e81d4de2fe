// Package controller implements the operator-side actions that manage a
// fleet: seeding the address registry, shipping the miner archive with a
// verified checksum, launching and scaling worker instances, registering
// addresses against the Mine API's terms, and reporting fleet status.
// Nothing here runs on the workers; the controller and the fleet meet
// only through the object store and the compute provider.
package controller
