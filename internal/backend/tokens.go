package backend

// estimateTokens approximates a token count for runtimes that do not report
// usage. The 4-bytes-per-token heuristic tracks English text closely enough
// for accounting purposes.
func estimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	n := (len(s) + 3) / 4
	if n == 0 {
		n = 1
	}
	return n
}
