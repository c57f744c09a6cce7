package banano

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"forager/internal/crypto"

	"golang.org/x/crypto/blake2b"
)

const (
	AddressPrefix = "ban_"

	alphabet      = "13456789abcdefghijkmnopqrstuwxyz"
	keyChars      = 52
	checksumChars = 8
	keySize       = 32
	checksumSize  = 5
)

// ErrInvalidAddress is wrapped by every address validation failure.
var ErrInvalidAddress = errors.New("invalid address")

// AddressError carries the human readable validation message shown to users.
type AddressError struct {
	Reason string
}

func (e *AddressError) Error() string { return e.Reason }

func (e *AddressError) Unwrap() error { return ErrInvalidAddress }

func invalid(format string, args ...any) error {
	return &AddressError{Reason: fmt.Sprintf(format, args...)}
}

// ValidateAddress checks prefix, length, alphabet and the blake2b checksum of
// a ban_ address without contacting the network.
func ValidateAddress(address string) error {
	_, err := PublicKey(address)
	return err
}

// PublicKey decodes the 32-byte account key from an address.
func PublicKey(address string) ([]byte, error) {
	if address == "" {
		return nil, invalid("Address is empty.")
	}
	if !strings.HasPrefix(address, AddressPrefix) {
		return nil, invalid("Invalid BANANO prefix, expected %q.", AddressPrefix)
	}
	body := address[len(AddressPrefix):]
	if len(body) != keyChars+checksumChars {
		return nil, invalid("Invalid BANANO address length %d, expected %d.", len(address), len(AddressPrefix)+keyChars+checksumChars)
	}
	if body[0] != '1' && body[0] != '3' {
		return nil, invalid("Invalid BANANO address, first character after prefix must be 1 or 3.")
	}

	key, err := decode(body[:keyChars], keySize)
	if err != nil {
		return nil, err
	}
	sum, err := decode(body[keyChars:], checksumSize)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(sum, checksum(key)) {
		return nil, invalid("Invalid BANANO checksum.")
	}
	return key, nil
}

// EncodeAddress renders a public key as a ban_ address.
func EncodeAddress(key []byte) (string, error) {
	if len(key) != keySize {
		return "", fmt.Errorf("public key must be %d bytes, got %d", keySize, len(key))
	}
	return AddressPrefix + encode(key, keyChars) + encode(checksum(key), checksumChars), nil
}

func checksum(key []byte) []byte {
	h, err := blake2b.New(checksumSize, nil)
	if err != nil {
		panic(err)
	}
	h.Write(key)
	return crypto.ReverseBytes(h.Sum(nil))
}

func encode(data []byte, chars int) string {
	n := new(big.Int).SetBytes(data)
	mask := big.NewInt(31)
	digit := new(big.Int)
	out := make([]byte, chars)
	for i := chars - 1; i >= 0; i-- {
		out[i] = alphabet[digit.And(n, mask).Int64()]
		n.Rsh(n, 5)
	}
	return string(out)
}

func decode(s string, size int) ([]byte, error) {
	n := new(big.Int)
	for i := 0; i < len(s); i++ {
		idx := strings.IndexByte(alphabet, s[i])
		if idx < 0 {
			return nil, invalid("Invalid BANANO address character %q.", s[i])
		}
		n.Lsh(n, 5)
		n.Or(n, big.NewInt(int64(idx)))
	}
	if n.BitLen() > size*8 {
		return nil, invalid("Invalid BANANO address encoding.")
	}
	return n.FillBytes(make([]byte, size)), nil
}
