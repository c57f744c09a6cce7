package banano

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeAddressVectors(t *testing.T) {
	sequential := make([]byte, 32)
	for i := range sequential {
		sequential[i] = byte(i)
	}
	ones := make([]byte, 32)
	for i := range ones {
		ones[i] = 0x01
	}
	cases := []struct {
		name string
		key  []byte
		want string
	}{
		{"zero key", make([]byte, 32), "ban_1111111111111111111111111111111111111111111111111111hifc8npp"},
		{"repeated byte", ones, "ban_11a3161i41a3161i41a3161i41a3161i41a3161i41a3161i41a3bqbhquyj"},
		{"sequential", sequential, "ban_11131a3ia3a81w61k4id3i8iw5ri46b3871o4rdji8at5eg3t9izij86w3hz"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeAddress(tc.key)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)

			key, err := PublicKey(got)
			require.NoError(t, err)
			require.Equal(t, tc.key, key)
		})
	}
}

func TestPublicKeyOfKnownAccounts(t *testing.T) {
	key, err := PublicKey("ban_1picturessx4aedsf59gm6qjkm6e3od4384m1qpfnotgsuoczbmhdb3e1zkh")
	require.NoError(t, err)
	require.Equal(t, "5a0ad6f0cce7a24317968cee992f194c8c0d5620985305ecda574eceeaafa66f", hex.EncodeToString(key))

	key, err = PublicKey("ban_19potasho7ozny8r1drz3u3hb3r97fw4ndm4hegdsdzzns1c3nobdastcgaa")
	require.NoError(t, err)
	require.Equal(t, "1ed5d232fa96bfa78d802f1f0ec2f487072b782a2e627b1cbcafffa640a0d2a9", hex.EncodeToString(key))
}

func TestValidateAddressRejects(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"nano prefix":    "nano_1picturessx4aedsf59gm6qjkm6e3od4384m1qpfnotgsuoczbmhdb3e1zkh",
		"short":          "ban_1picturessx4aedsf59gm6qjkm6e3od4384m1qpfnotgsuoczbmhdb3e1zk",
		"bad first char": "ban_5picturessx4aedsf59gm6qjkm6e3od4384m1qpfnotgsuoczbmhdb3e1zkh",
		"bad alphabet":   "ban_1picturessx4aedsf59gm6qjkm6e3od4384m1qpfnotgsuoczbmhdb3e1zk2",
		"bad checksum":   "ban_1picturessx4aedsf59gm6qjkm6e3od4384m1qpfnotgsuoczbmhdb3e1zkj",
		"upper case":     "ban_1PICTURESSX4AEDSF59GM6QJKM6E3OD4384M1QPFNOTGSUOCZBMHDB3E1ZKH",
	}
	for name, address := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateAddress(address)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidAddress))

			var addrErr *AddressError
			require.ErrorAs(t, err, &addrErr)
			require.NotEmpty(t, addrErr.Reason)
		})
	}
}

func TestEncodeAddressRejectsShortKey(t *testing.T) {
	_, err := EncodeAddress([]byte{1, 2, 3})
	require.Error(t, err)
}
