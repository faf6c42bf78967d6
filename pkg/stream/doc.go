// Package stream implements the fragment normalization layer: it turns raw
// framed event streams (SSE bytes) or pre-parsed per-chunk objects into one
// common StreamFragment sequence, merging tool-call argument deltas across
// chunk boundaries and throttling sub-token progress updates.
package stream
