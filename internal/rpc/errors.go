package rpc

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"syscall"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/ethergo-sdk/logstream/internal/common"
	"github.com/ethergo-sdk/logstream/pkg/events"
)

// Classify maps a raw transport/provider error onto the core taxonomy.
// Connection-level failures become TransportError; errors the node answered
// with become ProviderError, permanent unless recognizably transient.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	// Already classified by a lower layer.
	var transportErr *events.TransportError
	var providerErr *events.ProviderError
	if errors.As(err, &transportErr) || errors.As(err, &providerErr) {
		return err
	}

	if isConnectionError(err) {
		return events.NewTransportError(op, err)
	}

	// The node replied with an error. Rate limiting and server-side
	// overload are transient; everything else is treated as permanent.
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return events.NewProviderError(op, !transientProviderError(err), err)
	}

	var dataErr gethrpc.DataError
	if errors.As(err, &dataErr) {
		return events.NewProviderError(op, !transientProviderError(err), err)
	}

	return events.NewTransportError(op, err)
}

func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection")
}

func transientProviderError(err error) bool {
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout")
}

// errorType names an error class for metric labels.
func errorType(err error) string {
	var transportErr *events.TransportError
	if errors.As(err, &transportErr) {
		return "transport"
	}
	var providerErr *events.ProviderError
	if errors.As(err, &providerErr) {
		if providerErr.Permanent {
			return "provider_permanent"
		}
		return "provider_transient"
	}
	return "unknown"
}

// IsTooManyResultsError checks if the error is an RPC "too many results"
// error (DataError with the message in ErrorData).
func IsTooManyResultsError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	var dataErr gethrpc.DataError
	if errors.As(err, &dataErr) {
		errData := fmt.Sprintf("%v", dataErr.ErrorData())
		// Match the actual error string format (single backslash for \d)
		return regexp.MustCompile(`Query returned more than \d+ results`).MatchString(errData), errData
	}

	return false, ""
}

// ParseSuggestedBlockRange attempts to extract the suggested block range from
// the error message. Returns the suggested fromBlock and toBlock, and true if
// successfully parsed.
// Expected format: "Query returned more than 20000 results. Try with this block range [0x7dfd25, 0x7e0fcc]."
func ParseSuggestedBlockRange(err string) (fromBlock, toBlock uint64, ok bool) {
	if err == "" {
		return 0, 0, false
	}

	// Pattern to match hex block ranges in square brackets
	re := regexp.MustCompile(`\[(0x[0-9a-fA-F]+),\s*(0x[0-9a-fA-F]+)\]`)
	matches := re.FindStringSubmatch(err)

	const expectedMatches = 3 // full match + 2 groups
	if len(matches) != expectedMatches {
		return 0, 0, false
	}

	from, err1 := common.ParseUint64orHex(matches[1])
	to, err2 := common.ParseUint64orHex(matches[2])

	if err1 != nil || err2 != nil {
		return 0, 0, false
	}

	return from, to, true
}
