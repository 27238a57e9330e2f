// Package guard implements a rule-driven JWT lifecycle engine: named rules
// bundle signing secrets, algorithms, TTLs, and optional entity-binding,
// issuance-tracking, and blacklisting behavior. The package issues access and
// refresh tokens, decodes and verifies inbound tokens, records issuance per
// owning entity, blacklists tokens ahead of their natural expiry, and gates
// requests through an allow/deny pipeline.
//
// The middleware/guardware subpackage exposes the gate as router middleware.
package guard
