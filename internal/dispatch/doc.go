// Package dispatch drives scheduled batch jobs to completion.
//
// The dispatcher is the single consumer of the engine's job table. It picks
// the oldest job with work left, runs it to a terminal state, then looks for
// the next one. It wakes when a job is scheduled and also polls on a ticker
// so a missed signal only delays work.
//
// Shutdown:
//   - Cancelling the context stops the loop between steps
//   - A job interrupted this way stays Running in memory
//   - On the next start the scheduler marks it interrupted in the job store
package dispatch
