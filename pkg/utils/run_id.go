package utils

import "strings"

// shortIDLength is how many hex characters of a run ID survive in
// display contexts. Eight characters keep log lines scannable while
// staying unique within any realistic set of concurrent runs.
const shortIDLength = 8

// ShortRunID returns the compact display form of a run or job ID.
// Format: first 8 hex characters of the UUID, hyphens removed.
//
// Example:
//   - Input: "a3f8e2b1-7c44-4e19-9d02-5b6f08a1c9de"
//   - Output: "a3f8e2b1"
//
// Used for stdout log prefixes where the full 36-character UUID drowns
// the message. Persistence and the RPC surface always carry full IDs;
// only human-facing output shortens them.
func ShortRunID(id string) string {
	compact := strings.ReplaceAll(id, "-", "")
	if len(compact) <= shortIDLength {
		return compact
	}
	return compact[:shortIDLength]
}
