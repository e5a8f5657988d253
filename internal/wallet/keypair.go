// Package wallet owns the locally persisted key pair of the active user.
package wallet

import (
	"encoding/json"
	"errors"
)

var errPartialKeyPair = errors.New("stored key pair is incomplete")

// KeyPair is an opaque PEM key pair. Either both halves are set or neither is.
type KeyPair struct {
	PublicKey  string `json:"public_key_pem"`
	PrivateKey string `json:"private_key_pem"`
}

// Valid reports whether both halves are present.
func (k KeyPair) Valid() bool {
	return k.PublicKey != "" && k.PrivateKey != ""
}

func encodeKeyPair(k KeyPair) ([]byte, error) {
	if !k.Valid() {
		return nil, errPartialKeyPair
	}
	return json.Marshal(k)
}

func decodeKeyPair(data []byte) (KeyPair, error) {
	var k KeyPair
	if err := json.Unmarshal(data, &k); err != nil {
		return KeyPair{}, err
	}
	if !k.Valid() {
		return KeyPair{}, errPartialKeyPair
	}
	return k, nil
}
