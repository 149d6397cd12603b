// Package ringbuffer provides a fixed-capacity, lock-free circular sample
// buffer for exactly one producer and exactly one consumer.
//
// It sits between the hard-deadline audio callback and a goroutine that runs
// at its own pace:
//
//	in, _ := ringbuffer.New[float32](30000, "in")
//	in.SetPopBlocking(true)
//
//	// audio callback (never blocks)
//	in.Push(captured)
//
//	// companion goroutine
//	n := in.Pop(frame)
//
// # Cursors
//
// The write cursor is stored only by the producer and the read cursor only by
// the consumer. Each side loads the other's cursor atomically, and a cursor is
// stored only after the samples it covers have been copied, so the peer never
// observes a slot that has not been fully written or read.
//
// # Full and empty
//
// Occupancy is derived from the cursor difference modulo the capacity. Equal
// cursors always read as empty, so pushing exactly Capacity() samples into an
// empty buffer makes all of them invisible to the consumer. Keep at most
// Capacity()-1 samples in flight if none may be lost.
//
// # Blocking
//
// Push and Pop never block unless enabled with SetPushBlocking or
// SetPopBlocking. A blocking call sleeps for the retry interval and re-checks
// until the whole request fits; there is no timeout. Never enable blocking on
// the side driven by the real-time callback.
package ringbuffer
