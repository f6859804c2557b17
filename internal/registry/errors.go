package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Kind classifies a registry failure.
type Kind string

const (
	KindUnavailable     Kind = "unavailable"
	KindNetworkMismatch Kind = "network_mismatch"
	KindRejected        Kind = "rejected"
	KindUnauthorized    Kind = "unauthorized"
)

// Error is returned by every Registry method that fails.
type Error struct {
	Kind   Kind
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("registry %s: %s: %v", e.Kind, e.Reason, e.cause)
	}
	return fmt.Sprintf("registry %s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// ErrPending is returned by Receipt while a transaction is not yet mined.
var ErrPending = errors.New("registry transaction pending")

// ErrDisabled is returned when no RPC endpoint is configured.
var ErrDisabled = &Error{Kind: KindUnavailable, Reason: "registry is not configured"}

func unavailable(reason string, cause error) *Error {
	return &Error{Kind: KindUnavailable, Reason: reason, cause: cause}
}

func rejected(reason string) *Error {
	return &Error{Kind: KindRejected, Reason: reason}
}

// KindOf returns the kind of a registry error, or "" for anything else.
func KindOf(err error) Kind {
	var regErr *Error
	if errors.As(err, &regErr) {
		return regErr.Kind
	}
	return ""
}

const revertPrefix = "execution reverted"

// classifyRPCError turns a JSON-RPC error object into a registry error. Reverts
// carry the contract's reason string; everything else is a node-side failure.
func classifyRPCError(rpcErr *RPCError) *Error {
	msg := rpcErr.Message
	if strings.HasPrefix(msg, revertPrefix) {
		reason := strings.TrimSpace(strings.TrimPrefix(msg, revertPrefix))
		reason = strings.TrimSpace(strings.TrimPrefix(reason, ":"))
		if reason == "" {
			reason = revertReason(rpcErr.Data)
		}
		if reason == "" {
			reason = "execution reverted"
		}
		return &Error{Kind: KindRejected, Reason: reason, cause: rpcErr}
	}
	return &Error{Kind: KindUnavailable, Reason: msg, cause: rpcErr}
}

// revertReason decodes Error(string) revert data for nodes that leave the
// reason out of the message.
func revertReason(data string) string {
	raw, err := hexutil.Decode(data)
	if err != nil {
		return ""
	}
	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return ""
	}
	return reason
}
