// Package tracking issues tracking tokens and ingests the beacon hits that
// reference them.
//
// Tokens are minted by the Issuer before a send and persisted together with
// the token's "sent" event. Pixel and click hits are recorded by the Ingestor
// as raw, append-only events: nothing is deduplicated or scored here, that is
// the engagement package's job. Ingestion is best-effort and bounded by a
// response deadline so a slow or failing store never delays the mail client.
//
// The package depends on the EventStore and TokenRepository interfaces in
// repository.go and never imports database/sql directly.
package tracking
