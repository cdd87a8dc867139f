package token

import (
	"encoding/binary"
	"fmt"

	"github.com/datosdrive/datos/pkg/types"
)

// Owner encodings embedded after the token record.
const ownerP2PKH byte = 0x01

const ownerLen = 1 + len(types.Address{})

// BuildTokenScript serializes a token record plus its owner address into
// a pay-to-token output script.
func BuildTokenScript(t Token, owner types.Address) (types.Script, error) {
	payload, err := t.Encode()
	if err != nil {
		return types.Script{}, err
	}
	data := make([]byte, 0, len(payload)+ownerLen)
	data = append(data, payload...)
	data = append(data, ownerP2PKH)
	data = append(data, owner[:]...)
	return types.Script{Type: types.ScriptTypeToken, Data: data}, nil
}

// DecodeTokenScript parses a pay-to-token script. ok=false with a nil
// error means the script is simply not a token script and should be
// skipped; a non-nil error means it carries the token tag but is
// malformed and must be rejected.
func DecodeTokenScript(script types.Script) (Token, types.Address, bool, error) {
	var owner types.Address
	if script.Type != types.ScriptTypeToken {
		return Token{}, owner, false, nil
	}
	if len(script.Data) < offName+len(types.Hash{})+ownerLen {
		return Token{}, owner, false, fmt.Errorf("%w: %d bytes", ErrMalformedScript, len(script.Data))
	}
	tail := script.Data[len(script.Data)-ownerLen:]
	if tail[0] != ownerP2PKH {
		return Token{}, owner, false, fmt.Errorf("%w: unknown owner encoding 0x%02x", ErrMalformedScript, tail[0])
	}
	copy(owner[:], tail[1:])

	t, err := Decode(script.Data[:len(script.Data)-ownerLen])
	if err != nil {
		return Token{}, owner, false, err
	}
	return t, owner, true, nil
}

// GetTokenUIDFromScript extracts only the identifier without paying for
// a full decode. Returns false for anything that is not a well-formed
// token script prefix.
func GetTokenUIDFromScript(script types.Script) (uint64, bool) {
	if script.Type != types.ScriptTypeToken || len(script.Data) < offNameLen {
		return 0, false
	}
	return binary.LittleEndian.Uint64(script.Data[offUID:offNameLen]), true
}

// TokenFromScript composes DecodeTokenScript into a bare record.
func TokenFromScript(script types.Script) (Token, bool, error) {
	t, _, ok, err := DecodeTokenScript(script)
	return t, ok, err
}

// BuildChecksumScript embeds a caller-supplied 20-byte commitment in a
// zero-value output. Callers hash their auxiliary data themselves,
// typically with crypto.Hash160.
func BuildChecksumScript(sum [20]byte) types.Script {
	return types.Script{Type: types.ScriptTypeChecksum, Data: sum[:]}
}

// DecodeChecksumScript returns the embedded commitment, or false if the
// script is not a checksum script.
func DecodeChecksumScript(script types.Script) ([20]byte, bool) {
	var sum [20]byte
	if script.Type != types.ScriptTypeChecksum || len(script.Data) != len(sum) {
		return sum, false
	}
	copy(sum[:], script.Data)
	return sum, true
}
