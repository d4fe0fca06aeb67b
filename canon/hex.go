package canon

import (
	"encoding/hex"
	"strings"

	"github.com/getwalmarket/walmarket/oracle"
)

const hexPrefix = "0x"

// FormatHex renders b as "0x" followed by lowercase hex.
func FormatHex(b []byte) string {
	return hexPrefix + hex.EncodeToString(b)
}

// ParseHex decodes a "0x"-prefixed hex string.
func ParseHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, hexPrefix) {
		return nil, oracle.NewError(oracle.KindValidation, "ORACLE-HEX-001", "hex string must start with 0x")
	}
	b, err := hex.DecodeString(s[len(hexPrefix):])
	if err != nil {
		return nil, oracle.WrapError(oracle.KindValidation, "ORACLE-HEX-002", "invalid hex", err)
	}
	return b, nil
}

// IsHex reports whether s is "0x" followed by at least one lowercase hex digit.
func IsHex(s string) bool {
	if len(s) <= len(hexPrefix) || !strings.HasPrefix(s, hexPrefix) {
		return false
	}
	for _, c := range s[len(hexPrefix):] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// IsHex256 reports whether s is a 0x-prefixed 32-byte lowercase hex value.
func IsHex256(s string) bool {
	return len(s) == len(hexPrefix)+64 && IsHex(s)
}
