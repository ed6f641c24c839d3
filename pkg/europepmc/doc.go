// Package europepmc talks to the Europe PMC REST search service.
//
// Client.Search issues a single cursor-paginated request and maps HTTP
// failures to typed errors from pkg/errors; it never retries. The package
// also builds accession-type queries and projects raw records onto the
// allow-listed output fields.
package europepmc
