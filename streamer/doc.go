// Package streamer keeps a live connection to the quote feed and delivers
// decoded market events.
//
// A Streamer owns one transport at a time. All frames leave through a single
// writer goroutine, so subscription changes and keep-alives never interleave
// on the wire. Inbound frames are decoded in arrival order and handed to the
// consumer on the Events channel, which is closed when the streamer stops.
//
// The subscription registry outlives individual connections. With a
// reconnect policy enabled, a dropped connection is replaced by a fresh one
// and the registry is replayed onto it.
package streamer
