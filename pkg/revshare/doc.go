// Package revshare bills enterprise workspaces a share of the revenue they
// generate on the platform.
//
// External systems report revenue events per workspace; each event carries a
// unique ID so redelivery never double-counts. Events accumulate into
// calendar-month periods. Closing a period computes the fee - 15% of gross
// revenue with a $99 minimum - and writes an immutable RevenueRecord exactly
// once, even under concurrent close attempts across processes.
//
// Invoice collection is decoupled from record keeping: ClosePeriod enqueues
// an invoice handoff into an outbox after the record is durably written, and
// a background Dispatcher drains it against the payment provider with
// bounded retries. A provider outage therefore delays the invoice but can
// never lose the financial record or issue it twice.
//
// Stores: NewMemoryStore for tests and single-node setups, NewMongoStore
// for production. PaddleInvoicer implements the Invoicer handoff.
package revshare
