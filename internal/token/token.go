// Package token implements the named-asset overlay on the UTXO set:
// script encoding, consensus validation, name uniqueness bookkeeping
// and reorg undo.
package token

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/datosdrive/datos/config"
	"github.com/datosdrive/datos/pkg/types"
)

// Type distinguishes the two kinds of token operations.
type Type uint16

const (
	TypeNone     Type = 0
	TypeIssuance Type = 1
	TypeTransfer Type = 2
)

// CurrentVersion is the token record version written by this node.
const CurrentVersion uint8 = 1

func (t Type) String() string {
	switch t {
	case TypeIssuance:
		return "issuance"
	case TypeTransfer:
		return "transfer"
	default:
		return "none"
	}
}

// Token is the asset record embedded in a token script. Identity is the
// (UID, Name) pair; OriginTx points at the issuance transaction.
type Token struct {
	Version  uint8
	Type     Type
	UID      uint64
	Name     string
	OriginTx types.Hash
}

// NewIssuance builds an issuance record with the current version.
// The origin hash is filled in once the issuing transaction is final.
func NewIssuance(uid uint64, name string) Token {
	return Token{
		Version: CurrentVersion,
		Type:    TypeIssuance,
		UID:     uid,
		Name:    name,
	}
}

// Transfer derives a transfer record carrying the same identity.
func (t Token) Transfer() Token {
	return Token{
		Version:  CurrentVersion,
		Type:     TypeTransfer,
		UID:      t.UID,
		Name:     t.Name,
		OriginTx: t.OriginTx,
	}
}

// Equal reports whether two tokens share the same identity. Version,
// type and origin do not participate: a transfer equals its issuance.
func (t Token) Equal(other Token) bool {
	return t.UID == other.UID && t.Name == other.Name
}

// IsIssuance reports whether the record is an issuance.
func (t Token) IsIssuance() bool { return t.Type == TypeIssuance }

// IsTransfer reports whether the record is a transfer.
func (t Token) IsTransfer() bool { return t.Type == TypeTransfer }

// CheckName verifies the name length bounds.
func CheckName(name string) error {
	if len(name) < config.TokenNameMinLen || len(name) > config.TokenNameMaxLen {
		return fmt.Errorf("%w: %q has %d bytes, want %d to %d",
			ErrNameLength, name, len(name), config.TokenNameMinLen, config.TokenNameMaxLen)
	}
	return nil
}

// Wire offsets within an encoded record. The UID sits at a fixed
// position so indexers can read it without a full decode.
const (
	offVersion = 0
	offType    = 1
	offUID     = 2
	offNameLen = 10
	offName    = 11
)

// Encode writes the record in wire order: version, type, uid,
// length-prefixed name, origin hash.
func (t Token) Encode() ([]byte, error) {
	if err := CheckName(t.Name); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte(t.Version)
	buf.WriteByte(byte(t.Type))
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], t.UID)
	buf.Write(u64[:])
	buf.WriteByte(byte(len(t.Name)))
	buf.WriteString(t.Name)
	buf.Write(t.OriginTx[:])
	return buf.Bytes(), nil
}

// Decode parses a record written by Encode.
func Decode(data []byte) (Token, error) {
	var t Token
	if len(data) < offName {
		return t, fmt.Errorf("%w: %d bytes", ErrMalformedScript, len(data))
	}
	t.Version = data[offVersion]
	t.Type = Type(data[offType])
	t.UID = binary.LittleEndian.Uint64(data[offUID:offNameLen])
	nameLen := int(data[offNameLen])
	rest := data[offName:]
	if len(rest) < nameLen+len(types.Hash{}) {
		return t, fmt.Errorf("%w: truncated name or origin", ErrMalformedScript)
	}
	t.Name = string(rest[:nameLen])
	copy(t.OriginTx[:], rest[nameLen:nameLen+len(types.Hash{})])
	if err := CheckName(t.Name); err != nil {
		return t, err
	}
	if t.Type != TypeIssuance && t.Type != TypeTransfer {
		return t, fmt.Errorf("%w: unknown type %d", ErrMalformedScript, t.Type)
	}
	return t, nil
}

// String renders the record for logs.
func (t Token) String() string {
	return fmt.Sprintf("Token(v%d, %s, uid=%d, name=%s, origin=%s)",
		t.Version, t.Type, t.UID, t.Name, t.OriginTx)
}
