// Package cache provides a two-tier content-addressed response cache: a
// fast in-memory map backed by a durable SQLite store for cold starts.
package cache

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/ghostkellz/zeke/provider"
)

// InputHash computes the 64-bit cache key for a request. It is a pure
// function of (model, temperature, top_p, ordered messages): identical
// inputs always hash identically. Fields are length-delimited so no two
// distinct transcripts serialize to the same byte stream.
func InputHash(model string, temperature, topP float64, messages []provider.Message) uint64 {
	d := xxhash.New()
	writeField(d, model)
	writeField(d, strconv.FormatFloat(temperature, 'g', -1, 64))
	writeField(d, strconv.FormatFloat(topP, 'g', -1, 64))
	for _, msg := range messages {
		writeField(d, string(msg.Role))
		writeField(d, msg.Content)
	}
	return d.Sum64()
}

func writeField(d *xxhash.Digest, s string) {
	_, _ = d.WriteString(strconv.Itoa(len(s)))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(s)
}
