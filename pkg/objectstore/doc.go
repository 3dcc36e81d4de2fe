/*
Package objectstore abstracts the shared regional bucket the fleet
coordinates through.

The Store interface covers exactly the capabilities the coordinator needs:
GET with ETag, blind PUT for single-writer keys, conditional PUT (If-Match,
or If-None-Match for create-only), HEAD, LIST and DELETE. Conditional-write
conflicts are reported as the PreconditionFailed outcome rather than as
errors, because they are the expected signal of optimistic concurrency.

Two implementations are provided:

  - S3Store: the production store, built on aws-sdk-go-v2. S3 surfaces
    ETags on GetObject and honors If-Match / If-None-Match on PutObject.
  - MemoryStore: an in-process store with identical CAS semantics, used by
    the test suite and for local development.
*/
package objectstore
