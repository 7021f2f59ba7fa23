// Package loop provides the unbounded mailbox used to serialize work onto a
// single goroutine.
//
// Producers (socket read loops, dial goroutines, retry timers, listeners)
// never block on Push. A single consumer waits on Ready and drains with
// TryPop, so every reaction is handled in the order it was posted.
package loop
