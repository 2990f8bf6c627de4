package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ChecksumAddress validates a 0x-prefixed 20-byte hex address and returns
// its EIP-55 form. Mixed-case input must already carry a valid checksum.
func ChecksumAddress(addr string) (string, error) {
	s := strings.TrimPrefix(strings.TrimSpace(addr), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 20 {
		return "", fmt.Errorf("invalid address %q", addr)
	}
	sum := EIP55(raw)
	if s != strings.ToLower(s) && s != strings.ToUpper(s) && sum[2:] != s {
		return "", fmt.Errorf("bad checksum for address %q", addr)
	}
	return sum, nil
}

// EIP55 computes the checksummed hex address string from 20-byte raw address.
func EIP55(addr20 []byte) string {
	hexaddr := hex.EncodeToString(addr20)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(hexaddr))
	hash := h.Sum(nil)

	out := make([]byte, 2+len(hexaddr))
	copy(out, "0x")
	for i, c := range []byte(hexaddr) {
		if c >= '0' && c <= '9' {
			out[2+i] = c
			continue
		}
		// each hex char maps to one nibble of the hash
		nibble := hash[i>>1] & 0x0f
		if i%2 == 0 {
			nibble = hash[i>>1] >> 4
		}
		if nibble >= 8 {
			out[2+i] = c - 'a' + 'A'
		} else {
			out[2+i] = c
		}
	}
	return string(out)
}
