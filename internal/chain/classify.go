package chain

import "strings"

// nonceDesyncSignatures are RPC error fragments that indicate the local
// nonce view has diverged from the network's.
var nonceDesyncSignatures = []string{
	"nonce",
	"replacement",
	"underpriced",
	"already known",
	"-32000",
	"-32010",
}

// terminalSignatures are RPC error fragments for failures that a retry
// with a fresh nonce or higher fee cannot fix.
var terminalSignatures = []string{
	"execution reverted",
	"insufficient funds",
	"gas required exceeds allowance",
	"invalid sender",
}

// IsNonceError reports whether an error matches a known nonce-desync
// signature. These are the errors that must invalidate the allocator's
// cached sequence value before any retry.
func IsNonceError(err error) bool {
	if err == nil {
		return false
	}
	return matchesAny(err.Error(), nonceDesyncSignatures)
}

// IsTerminalError reports whether an error is a permanent on-chain
// failure that should not be retried.
func IsTerminalError(err error) bool {
	if err == nil {
		return false
	}
	return matchesAny(err.Error(), terminalSignatures)
}

func matchesAny(msg string, signatures []string) bool {
	lower := strings.ToLower(msg)
	for _, sig := range signatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
