// Package signer obtains detached signatures from the external signing
// tool that holds the fleet's wallet. Registration and donation both
// require an address to sign a server-provided message verbatim; keeping
// the keys in a separate binary means a compromised worker leaks no key
// material.
package signer
