package saga

// Package saga coordinates multi-step operations across independent
// data stores with guaranteed rollback semantics: atomicity via
// compensation, not ACID. For more on distributed sagas, see this 2017
// JOTB talk by Caitie McCaffrey:
// https://www.youtube.com/watch?v=0UTOLRTwOX0
//
// Overview
//
// 1. Define your steps:
//    - Pair a forward action with a compensation that undoes it, using
//      `NewStep`. Compensations must be idempotent.
//    - Use `NewNestedStep` for a step whose action is itself a complete
//      sub-saga.
// 2. Create a `Coordinator` with `New`, optionally configuring an
//    overall timeout, a `zap` logger, and a `StateStore` for durable
//    snapshots (`NewMemoryStateStore` for testing, `NewFileStateStore`
//    or your own for persistence).
// 3. Run your saga:
//    - `Execute` runs an ordered step list sequentially. On the first
//      failure, completed steps are compensated in reverse order,
//      best-effort, and the outcome is reported as a Success, Failure,
//      or PartialFailure.
//    - Subscribe to the coordinator's event stream for observability.
// 4. For operations against external stores, wrap the coordinator in a
//    `TxCoordinator` and use `Transaction`: `SaveItem` and `DeleteItem`
//    generate their own compensations from prior-value snapshots.
