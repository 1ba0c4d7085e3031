// Package engine implements the shared function execution discipline applied
// to every backend flavor: admission control with a bounded FIFO queue,
// deadline and abort propagation, retry with exponential backoff, result
// caching, and the warm/cold/draining lifecycle. The engine is generic over
// the backend interface; it never interprets function source or payloads.
package engine
