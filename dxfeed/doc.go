// Package dxfeed decodes the quote feed's cometd framing and its positional
// event payloads into typed market data events.
//
// Event payloads come in two shapes. The first sample of an event type on a
// connection carries the field names followed by values; later samples carry
// values only. A Mapper caches the field names per event type so both shapes
// map to the same keyed records. A single payload may batch several
// instruments back to back under one schema.
package dxfeed
