package protocol

import (
	"fmt"
	"strings"
)

// Description prefix used for any payload the decoders do not recognise.
const unknownPrefix = "unknown"

var resultNames = map[byte]string{
	0x00: "SUCCESS",
	0x01: "INVALID_PARAM",
	0x02: "ERROR",
	0x03: "BUSY",
	0x05: "NOT_CALIBRATED",
	0x06: "UNLOCK_ALREADY_CALLED_BY_AUTOUNLOCK",
	0x07: "UNLOCK_ALREADY_CALLED_BY_OTHER_OPERATION",
	0x08: "NOT_CONFIGURED",
	0x09: "DISMOUNTED",
}

var lockStates = map[byte]string{
	0x00: "Uncalibrated",
	0x01: "Calibration",
	0x02: "Unlocked",
	0x03: "Semi-locked",
	0x04: "Unlocking",
	0x05: "Locking",
	0x06: "Locked",
	0x07: "Pulled",
	0x08: "Pulling",
	0x09: "Unknown",
	0x12: "Updating",
}

var lockStatuses = map[byte]string{
	0x00: "OK",
	0x01: "Jammed",
	0x02: "Timeout",
	0x03: "Check",
	0x04: "Moving",
	0x05: "Error",
}

func unknown(value byte) string {
	return fmt.Sprintf("%s (0x%02X)", unknownPrefix, value)
}

func lookup(table map[byte]string, value byte) string {
	if name, ok := table[value]; ok {
		return name
	}
	return unknown(value)
}

// DescribeLockState returns a human-readable name for a lock state byte.
func DescribeLockState(state byte) string {
	return lookup(lockStates, state)
}

// DescribeStatus returns a human-readable name for the status byte that accompanies a lock state.
func DescribeStatus(status byte) string {
	return lookup(lockStatuses, status)
}

// DescribeLockStatus renders a (state, status) pair the way it is surfaced to hosts.
func DescribeLockStatus(state, status byte) string {
	return fmt.Sprintf("State: %s, Status: %s", DescribeLockState(state), DescribeStatus(status))
}

// DescribeResult decodes a command response of the form [opcode, result, data...]. It never
// fails: payloads it cannot interpret are described as unknown.
func DescribeResult(payload []byte) string {
	if len(payload) == 0 {
		return "No response"
	}
	if len(payload) == 1 {
		return fmt.Sprintf("%s response %s", unknownPrefix, HexDump(payload))
	}
	opcode, result := payload[0], payload[1]
	name, ok := opcodeNames[opcode]
	if !ok {
		name = fmt.Sprintf("command 0x%02X", opcode)
	}
	desc := fmt.Sprintf("%s: %s", name, lookup(resultNames, result))
	if opcode == OpcodeGetState && result == 0x00 && len(payload) >= 4 {
		desc += ", " + DescribeLockStatus(payload[2], payload[3])
	}
	return desc
}

// DescribeNotification decodes an unsolicited message from the lock. Empty messages yield "".
func DescribeNotification(message []byte) string {
	if len(message) == 0 {
		return ""
	}
	switch message[0] {
	case NotificationLockStatusChange:
		if len(message) >= 3 {
			return "Lock status changed, " + DescribeLockStatus(message[1], message[2])
		}
	case NotificationNeedDateTime:
		return "Lock needs signed date and time"
	}
	return fmt.Sprintf("%s notification 0x%02X", unknownPrefix, message[0])
}

// IsUnknown reports whether a description came from an unrecognised payload.
func IsUnknown(description string) bool {
	return strings.HasPrefix(description, unknownPrefix) || strings.Contains(description, unknownPrefix+" (0x")
}

// HexDump formats data as space separated "0xNN" bytes.
func HexDump(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("0x%02X", b)
	}
	return strings.Join(parts, " ")
}
