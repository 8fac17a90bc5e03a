package program

import (
	"fmt"
	"regexp"
	"strconv"
)

// ErrorCode is a custom error number returned by the program
type ErrorCode uint32

type errorInfo struct {
	name    string
	message string
}

var errorTable = map[ErrorCode]errorInfo{
	6000: {"OnlyOwner", "only the challenge owner can perform this action"},
	6001: {"OnlyAllowedUsers", "only allowed users can perform this action"},

	6100: {"ChallengeInProgressOrExpired", "challenge is in progress or expired"},
	6101: {"InsufficientBalance", "insufficient balance"},
	6102: {"InsufficientAllowance", "insufficient allowance"},
	6103: {"TokenTransferFailed", "token transfer failed"},

	6200: {"InvalidSnoozupWalletAddress", "invalid treasury wallet address"},
	6201: {"InvalidWinnerAddress", "invalid winner address"},
	6202: {"ApprovalWinnerFailed", "winner approval failed"},
	6203: {"TransferToWinnerFailed", "transfer to winner failed"},
	6204: {"NoBalanceLeftForSnoozup", "no balance left for treasury"},
	6205: {"ApprovalSnoozupWalletFailed", "treasury wallet approval failed"},
	6206: {"TransferToSnoozupWalletFailed", "transfer to treasury wallet failed"},

	6300: {"InsufficientContractBalance", "insufficient contract balance"},
	6301: {"InvalidSubscriberAddress", "invalid subscriber address"},
	6302: {"TransferToSubscriberFailed", "transfer to subscriber failed"},

	6400: {"InvalidCommissionRate", "invalid commission rate"},
	6401: {"InvalidNonce", "invalid nonce"},
	6402: {"InsufficientFunds", "insufficient funds"},
	6403: {"TooManyWinners", "too many winners"},
	6404: {"TooManyOwners", "too many owners"},
	6405: {"AlreadyMigrated", "already migrated"},
	6406: {"InvalidInput", "invalid input"},
	6407: {"MissingWinnerAccount", "missing winner account"},
	6408: {"MissingSubscriberAccount", "missing subscriber account"},
	6409: {"NoPendingRotation", "no pending rotation"},
	6410: {"NotPendingOwner", "not the pending owner"},
	6411: {"RotationTooEarly", "rotation too early"},
	6412: {"InvalidAmount", "invalid amount"},
	6413: {"Unauthorized", "unauthorized"},
	6414: {"InvalidStatus", "invalid status"},
	6415: {"MaxSubscribersReached", "maximum subscribers reached"},
	6416: {"AlreadySubscribed", "already subscribed"},
	6417: {"LamportMathError", "lamport arithmetic error"},
}

// Name returns the program's identifier for the code, or a generic label for
// codes outside the program's table (framework and system errors).
func (c ErrorCode) Name() string {
	if info, ok := errorTable[c]; ok {
		return info.name
	}
	return fmt.Sprintf("Custom%d", uint32(c))
}

// Message returns a human readable description
func (c ErrorCode) Message() string {
	if info, ok := errorTable[c]; ok {
		return info.message
	}
	return fmt.Sprintf("program returned custom error %d", uint32(c))
}

// Known reports whether the code belongs to the program's own table
func (c ErrorCode) Known() bool {
	_, ok := errorTable[c]
	return ok
}

var (
	hexCodePattern    = regexp.MustCompile(`custom program error: 0x([0-9a-fA-F]+)`)
	customCodePattern = regexp.MustCompile(`"?Custom"?\s*:\s*(\d+)`)
	anchorCodePattern = regexp.MustCompile(`Error Number: (\d+)`)
)

// ParseErrorCode extracts a custom error number from an RPC error message, a
// transaction error value rendered as text, or program log lines.
func ParseErrorCode(texts ...string) (ErrorCode, bool) {
	for _, text := range texts {
		if m := hexCodePattern.FindStringSubmatch(text); m != nil {
			if v, err := strconv.ParseUint(m[1], 16, 32); err == nil {
				return ErrorCode(v), true
			}
		}
		if m := anchorCodePattern.FindStringSubmatch(text); m != nil {
			if v, err := strconv.ParseUint(m[1], 10, 32); err == nil {
				return ErrorCode(v), true
			}
		}
		if m := customCodePattern.FindStringSubmatch(text); m != nil {
			if v, err := strconv.ParseUint(m[1], 10, 32); err == nil {
				return ErrorCode(v), true
			}
		}
	}
	return 0, false
}
