package rpc

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethergo-sdk/logstream/pkg/events"
)

// rpcDataError mimics the provider's typed JSON-RPC error.
type rpcDataError struct {
	msg  string
	data string
}

func (e *rpcDataError) Error() string          { return e.msg }
func (e *rpcDataError) ErrorCode() int         { return -32005 }
func (e *rpcDataError) ErrorData() interface{} { return e.data }

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTransport bool
		wantProvider  bool
		wantPermanent bool
	}{
		{
			name:          "connection refused is transport",
			err:           syscall.ECONNREFUSED,
			wantTransport: true,
		},
		{
			name:          "timeout string is transport",
			err:           errors.New("request timeout"),
			wantTransport: true,
		},
		{
			name:          "rpc error is permanent provider",
			err:           &rpcDataError{msg: "invalid block range"},
			wantProvider:  true,
			wantPermanent: true,
		},
		{
			name:         "rate-limited rpc error is transient provider",
			err:          &rpcDataError{msg: "429 too many requests"},
			wantProvider: true,
		},
		{
			name:          "unrecognized error defaults to transport",
			err:           errors.New("something odd"),
			wantTransport: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := Classify("eth_getLogs", tt.err)
			require.Error(t, classified)

			var transportErr *events.TransportError
			var providerErr *events.ProviderError
			assert.Equal(t, tt.wantTransport, errors.As(classified, &transportErr))
			if assert.Equal(t, tt.wantProvider, errors.As(classified, &providerErr)) && tt.wantProvider {
				assert.Equal(t, tt.wantPermanent, providerErr.Permanent)
			}
		})
	}
}

func TestClassify_NilPassesThrough(t *testing.T) {
	require.NoError(t, Classify("eth_blockNumber", nil))
}

func TestClassify_AlreadyClassifiedUnchanged(t *testing.T) {
	original := events.NewProviderError("eth_getLogs", true, errors.New("rejected"))
	require.Equal(t, original, Classify("eth_getLogs", original))
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "transport", errorType(events.NewTransportError("op", errors.New("x"))))
	assert.Equal(t, "provider_permanent", errorType(events.NewProviderError("op", true, errors.New("x"))))
	assert.Equal(t, "provider_transient", errorType(events.NewProviderError("op", false, errors.New("x"))))
	assert.Equal(t, "unknown", errorType(errors.New("x")))
}

func TestIsTooManyResultsError(t *testing.T) {
	tooMany, data := IsTooManyResultsError(&rpcDataError{
		msg:  "query limit",
		data: "Query returned more than 20000 results. Try with this block range [0x7dfd25, 0x7e0fcc].",
	})
	require.True(t, tooMany)
	require.Contains(t, data, "0x7dfd25")

	tooMany, _ = IsTooManyResultsError(&rpcDataError{msg: "query limit", data: "execution reverted"})
	require.False(t, tooMany)

	tooMany, _ = IsTooManyResultsError(errors.New("plain error"))
	require.False(t, tooMany)

	tooMany, _ = IsTooManyResultsError(nil)
	require.False(t, tooMany)
}

func TestParseSuggestedBlockRange(t *testing.T) {
	tests := []struct {
		name     string
		errData  string
		wantFrom uint64
		wantTo   uint64
		wantOK   bool
	}{
		{
			name:     "well-formed suggestion",
			errData:  "Query returned more than 20000 results. Try with this block range [0x7dfd25, 0x7e0fcc].",
			wantFrom: 0x7dfd25,
			wantTo:   0x7e0fcc,
			wantOK:   true,
		},
		{
			name:    "no range present",
			errData: "Query returned more than 20000 results.",
		},
		{
			name:    "empty string",
			errData: "",
		},
		{
			name:    "malformed brackets",
			errData: "Try with this block range [oops, 0x10].",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, ok := ParseSuggestedBlockRange(tt.errData)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantFrom, from)
				assert.Equal(t, tt.wantTo, to)
			}
		})
	}
}
