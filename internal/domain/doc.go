// Package domain models social-service locations and point reports of need.
//
// # Resources
//
// A [Resource] is a service location (shelter, food bank, clinic, hygiene
// site) normalized from a provider feed. Providers disagree on field names and
// categories, so adapters map every record onto one schema:
//
//	type:        shelter | food | medical | hygiene | other
//	coordinates: finite lat in [-90,90], lng in [-180,180]
//
// Records without usable coordinates never reach the catalog. Unknown
// categories become "other" (see [ParseResourceType]).
//
// Staleness: a record whose provider confirmation (lastVerifiedAt) is older
// than seven days is stale. The catalog does not drop stale records; consumers
// decide what to do with them via [Resource.IsStale].
//
// # Deduplication
//
// Providers overlap. Two records are the same physical site when their dedup
// key matches:
//
//	lower(trim(name)) | round(lat, 3) | round(lng, 3)
//
// Three decimals is roughly 111 m at the equator. The heuristic under-merges
// sites whose names differ across providers and over-merges unnamed sites that
// round to the same cell; both are accepted. The first record in input order
// wins, so adapter order decides which provider's fields survive.
//
// # Observations
//
// An [Observation] is a single report ("food needed here") submitted over
// HTTP or the ingest topic. Notes are cut to 140 characters. Each observation
// carries a count weight (default 1) that feeds density estimates.
//
// # Distances
//
// Distances use the haversine formula with a mean Earth radius of 6 371 km.
package domain
