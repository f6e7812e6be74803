// Package ledger owns workspace subscriptions and usage counters. It
// answers the two entitlement questions - "may this workspace use feature X"
// and "consume N units of X" - and guards subscription transitions.
//
// Entitlements are resolved at read time by set/map lookup over the
// subscribed bundle definitions: union of features, max of limits, with -1
// (unlimited) dominant. Nothing is denormalized, so a catalog edit never
// requires rewriting subscriptions.
//
// Consume is an atomic compare-and-increment against the
// (workspace, feature, period) counter: under concurrent callers a shared
// quota of K units never yields more than K successful consumptions, and a
// failed consume records nothing. The memory store uses a mutex, the Redis
// store a Lua script, and the Mongo store a conditional update retried on
// conflict.
//
// Period rollover is idempotent and scheduler-driven. Period keys include a
// monotonically increasing sequence, so cancelling and re-subscribing never
// resurrects a previous period's counters.
package ledger
