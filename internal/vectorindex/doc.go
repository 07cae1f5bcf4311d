// Package vectorindex provides approximate nearest-neighbor search over
// fixed-dimension vectors grouped into per-modality collections.
//
// Two backends implement the Index interface:
//
//   - Qdrant: external Qdrant server over its native gRPC client. Production
//     deployments use this; the gRPC transport avoids the HTTP payload limits.
//   - Chromem: embedded chromem-go store. Zero external services, suitable
//     for development and tests.
//
// Hybrid wraps an Index with the modality-to-collection mapping and fans a
// single query vector out to every requested modality in parallel, merging
// the per-collection hits into one deterministically ordered list.
package vectorindex
