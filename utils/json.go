package utils

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
)

// Marshal generic struct to JSON
func MarshalToJSON[T any](input T) (string, error) {
	jsonData, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	return string(jsonData), nil
}

// Unmarshal JSON to generic struct
func UnmarshalFromJSON[T any](data []byte, output *T) error {
	return json.Unmarshal(data, output)
}

// CanonicalJSON re-encodes a JSON payload into a canonical form so that two
// payloads differing only in object key order (or insignificant whitespace)
// produce identical bytes. Clients re-serialize JSON in arbitrary key order,
// so idempotency hashing must not depend on it.
//
// encoding/json marshals map keys sorted, which gives us the canonical order
// for free; json.Number keeps numeric literals exactly as sent.
func CanonicalJSON(payload []byte) ([]byte, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return []byte("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.New("invalid json payload: " + err.Error())
	}
	return json.Marshal(v)
}

// HashCanonicalPayload returns the hex SHA-256 of the canonicalized payload.
func HashCanonicalPayload(payload []byte) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
