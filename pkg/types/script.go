package types

import (
	"encoding/hex"
	"encoding/json"
)

// ScriptType identifies the type of locking script. The tag byte is part of
// consensus: decoders dispatch on it before looking at Data, so plain,
// token, and checksum outputs can never shadow one another.
type ScriptType uint8

const (
	ScriptTypeP2PKH    ScriptType = 0x01 // Pay to public key hash
	ScriptTypeToken    ScriptType = 0x10 // Pay to token (token payload + owner script)
	ScriptTypeChecksum ScriptType = 0x20 // Checksum data commitment (unspendable)
)

// String returns a human-readable name for the script type.
func (st ScriptType) String() string {
	switch st {
	case ScriptTypeP2PKH:
		return "P2PKH"
	case ScriptTypeToken:
		return "Token"
	case ScriptTypeChecksum:
		return "Checksum"
	default:
		return "Unknown"
	}
}

// Script defines the locking condition for a UTXO.
type Script struct {
	Type ScriptType `json:"type"`
	Data []byte     `json:"data"`
}

// IsPayToToken reports whether the script carries a token payload.
func (s Script) IsPayToToken() bool {
	return s.Type == ScriptTypeToken
}

// IsChecksumData reports whether the script is a checksum commitment.
func (s Script) IsChecksumData() bool {
	return s.Type == ScriptTypeChecksum
}

// scriptJSON is the JSON representation of a Script with hex-encoded data.
type scriptJSON struct {
	Type ScriptType `json:"type"`
	Data string     `json:"data"`
}

// MarshalJSON encodes the script with hex-encoded data.
func (s Script) MarshalJSON() ([]byte, error) {
	return json.Marshal(scriptJSON{
		Type: s.Type,
		Data: hex.EncodeToString(s.Data),
	})
}

// UnmarshalJSON decodes a script with hex-encoded data.
func (s *Script) UnmarshalJSON(data []byte) error {
	var j scriptJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	s.Type = j.Type
	if j.Data != "" {
		b, err := hex.DecodeString(j.Data)
		if err != nil {
			return err
		}
		s.Data = b
	}
	return nil
}
