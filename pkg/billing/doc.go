// Package billing implements the subscription billing lifecycle for a
// multi-tenant SaaS: plan provisioning against an external payment
// processor, the per-tenant subscription state machine, webhook
// reconciliation with idempotency and ordering guarantees, and the
// read/write gateway a polling client depends on.
//
// # Architecture
//
// The package is built from small, separately testable pieces:
//
//   - Plan / PlanStore – durable plan records keyed by a stable business
//     identifier, holding the processor's plan id once provisioned.
//   - Provisioner – idempotent EnsurePlan that makes a plan exist locally
//     and remotely exactly once, surviving crashes and concurrent callers.
//   - TenantSubscription / SubscriptionStore – one row per tenant with a
//     monotonic version for optimistic concurrency.
//   - Transition – the pure lifecycle function over a transition table;
//     illegal pairs are refused with a typed rejection.
//   - Reconciler – ingests processor webhooks, deduplicates them through
//     the LedgerStore, drops stale deliveries by sequence hint, and
//     persists accepted transitions under a bounded conflict-retry budget.
//   - Service – the gateway: status reads with lazy trial expiry, and
//     subscribe/cancel/trial writes.
//   - Poller – the client-side polling contract with a fixed interval and
//     a bounded attempt budget.
//
// Two writers mutate a subscription record: the end user (through Service)
// and the processor (through Reconciler). They serialize on the record's
// version; neither holds a lock across a network call.
//
// # Processor
//
// ProcessorClient abstracts the payment processor. The Paddle
// implementation uses the official SDK with verified webhooks; tests use
// in-memory doubles. Raw card data never enters this system — the
// processor's client-side SDK tokenizes it.
//
// # Usage
//
//	svc := billing.NewService(planStore, subStore, processor)
//	rec := billing.NewReconciler(subStore, ledgerStore, processor)
//
//	// startup, idempotent:
//	prov := billing.NewProvisioner(planStore, processor)
//	_, err := prov.EnsurePlan(ctx, "zuma_pro", billing.PlanSpec{
//	    Name:  "Zuma Pro",
//	    Price: billing.Money{Amount: 2900, Currency: "USD"},
//	})
package billing
