package protocol

import (
	"strconv"
	"strings"
)

// Lock opcodes. Each is sent to the lock as a single-byte raw command.
const (
	OpcodeLock       byte = 0x50
	OpcodeUnlock     byte = 0x51
	OpcodePullSpring byte = 0x52
	OpcodeGetState   byte = 0x5A
)

// Notification headers sent by the lock without a matching request.
const (
	NotificationLockStatusChange byte = 0xBA
	NotificationNeedDateTime     byte = 0xFC
)

var opcodeNames = map[byte]string{
	OpcodeLock:       "lock",
	OpcodeUnlock:     "unlock",
	OpcodePullSpring: "pull spring",
	OpcodeGetState:   "get state",
}

// ParseOpcode converts a hex string such as "0x51", "51" or "0X51" into a single opcode byte.
// Surrounding whitespace is ignored. Anything that is not one byte of hex is an InvalidHex error.
func ParseOpcode(s string) (byte, error) {
	clean := strings.TrimSpace(s)
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		clean = clean[2:]
	}
	if clean == "" || strings.HasPrefix(clean, "+") || strings.HasPrefix(clean, "-") {
		return 0, InvalidHex(s)
	}
	value, err := strconv.ParseUint(clean, 16, 8)
	if err != nil {
		return 0, InvalidHex(s)
	}
	return byte(value), nil
}
