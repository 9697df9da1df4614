// Package engagement derives per-lead engagement state and per-campaign
// interaction history from the tracking event log.
//
// Every cached value (lead_engagement_cache, campaign_interactions and the
// engagement columns of leads) is a pure function of the event log plus the
// token table, computed by Compute in score.go. The Aggregator replays a
// lead's events, runs Compute and overwrites the caches; the Reconciler does
// the same for every lead on a schedule. Nothing here increments a counter
// in place, so replays are idempotent and independent of event order.
package engagement
