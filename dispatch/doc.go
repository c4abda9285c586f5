// Package dispatch queues outbound notification work (confirmation and
// password-reset instructions) for asynchronous delivery.
//
// # Ordering
//
// Jobs are appended to one of N Redis lists chosen by hashing the account ID.
// Each list is drained by exactly one worker of a [Pool], so jobs of the same
// account are delivered in enqueue order while different accounts proceed in
// parallel.
//
// # Failure semantics
//
// [Queue.Enqueue] fails only when the job cannot be persisted; the caller treats
// that as fatal. Delivery failures stay on this side of the boundary: the
// [Deliverer] (usually wrapped in a [RetryingDeliverer]) retries on its own
// policy and exhausted jobs are moved to a dead-letter list.
//
// A dequeued job is moved to a per-shard processing list, not removed. It
// leaves Redis only when delivered or dead-lettered. A job interrupted by
// [Pool.Stop] goes back to the head of its shard, and [Pool.Start] returns jobs
// stranded by a crashed worker the same way, so delivery is at-least-once.
//
// # What this package must NOT do
//
//   - Import authcore or any internal package.
//   - Log raw token values carried by a [Job].
package dispatch
