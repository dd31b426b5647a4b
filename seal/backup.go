// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"strings"

	"github.com/zeebo/blake3"

	"github.com/agentmirror/agentmirror/lib/secret"
)

// Backup phrases encode a 32-byte master secret as human-transcribable
// base-32 text. The alphabet omits I, O, 0, and 1 so no two symbols
// are visually ambiguous. The 256 secret bits become 52 symbols (the
// final symbol carries four zero padding bits); a 4-symbol checksum
// block holding the first 20 bits of BLAKE3(secret) is appended, and
// the 56 symbols are written as 14 dash-separated groups of 4:
//
//	XXXX-XXXX-…-XXXX-CCCC
//
// Any mistyped symbol changes either the decoded secret (caught by the
// BLAKE3 checksum, failure-to-detect odds 2^-20), the padding bits
// (which must be zero), or the checksum block itself.
const backupAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	backupGroupSize  = 4
	backupGroupCount = 14 // 13 payload groups + 1 checksum group
	backupCheckChars = 4
)

var backupReverse [256]int8

func init() {
	for i := range backupReverse {
		backupReverse[i] = -1
	}
	for i := 0; i < len(backupAlphabet); i++ {
		backupReverse[backupAlphabet[i]] = int8(i)
	}
}

// EncodeBackup renders a 32-byte secret as a backup phrase.
func EncodeBackup(s *secret.Buffer) (string, error) {
	if s.Len() != SeedSize {
		return "", &FormatError{Reason: "backup secret must be 32 bytes"}
	}

	symbols := make([]byte, 0, backupGroupCount*backupGroupSize)
	symbols = appendBase32(symbols, s.Bytes())
	check := checksumSymbols(s.Bytes())
	symbols = append(symbols, check[:]...)

	var phrase strings.Builder
	for i, symbol := range symbols {
		if i > 0 && i%backupGroupSize == 0 {
			phrase.WriteByte('-')
		}
		phrase.WriteByte(symbol)
	}
	return phrase.String(), nil
}

// DecodeBackup parses a backup phrase back into the 32-byte secret.
// Wrong grouping, length, or symbols outside the alphabet return
// *FormatError; a payload that does not match its checksum block
// returns *ChecksumError.
func DecodeBackup(phrase string) (*secret.Buffer, error) {
	groups := strings.Split(strings.ToUpper(strings.TrimSpace(phrase)), "-")
	if len(groups) != backupGroupCount {
		return nil, &FormatError{Reason: "backup phrase must have 14 groups"}
	}
	var symbols []byte
	for _, group := range groups {
		if len(group) != backupGroupSize {
			return nil, &FormatError{Reason: "backup phrase groups must be 4 symbols"}
		}
		symbols = append(symbols, group...)
	}

	payload := symbols[:len(symbols)-backupCheckChars]
	check := symbols[len(symbols)-backupCheckChars:]

	decoded := make([]byte, 0, SeedSize)
	var accumulator uint32
	bits := 0
	for _, symbol := range payload {
		value := backupReverse[symbol]
		if value < 0 {
			return nil, &FormatError{Reason: "backup phrase contains a symbol outside the alphabet"}
		}
		accumulator = accumulator<<5 | uint32(value)
		bits += 5
		if bits >= 8 {
			bits -= 8
			decoded = append(decoded, byte(accumulator>>bits))
		}
	}
	// 52 symbols carry 260 bits; the trailing four are padding and
	// must be zero. Non-zero padding means a corrupted final symbol.
	if bits != 4 || accumulator&0x0f != 0 {
		return nil, &ChecksumError{}
	}

	want := checksumSymbols(decoded)
	for i := range check {
		if backupReverse[check[i]] < 0 {
			return nil, &FormatError{Reason: "backup phrase contains a symbol outside the alphabet"}
		}
		if check[i] != want[i] {
			return nil, &ChecksumError{}
		}
	}

	return secret.NewFromBytes(decoded)
}

// appendBase32 appends the base-32 symbols for data, padding the final
// symbol with zero bits.
func appendBase32(dst, data []byte) []byte {
	var accumulator uint32
	bits := 0
	for _, b := range data {
		accumulator = accumulator<<8 | uint32(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			dst = append(dst, backupAlphabet[accumulator>>bits&31])
		}
	}
	if bits > 0 {
		dst = append(dst, backupAlphabet[accumulator<<(5-bits)&31])
	}
	return dst
}

// checksumSymbols returns the 4-symbol checksum block: the first 20
// bits of BLAKE3(data) as base-32 symbols.
func checksumSymbols(data []byte) [backupCheckChars]byte {
	digest := blake3.Sum256(data)
	var out [backupCheckChars]byte
	out[0] = backupAlphabet[digest[0]>>3]
	out[1] = backupAlphabet[(digest[0]&0x07)<<2|digest[1]>>6]
	out[2] = backupAlphabet[digest[1]>>1&31]
	out[3] = backupAlphabet[(digest[1]&0x01)<<4|digest[2]>>4]
	return out
}
