package hook

import (
	"bytes"

	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/spendsave/internal/domain/identity"
)

const abiWordSize = 32

// DecodeUser extracts the end user from venue side-channel data. Accepted
// forms: a raw 20-byte big-endian script hash, a 32-byte ABI word holding it
// in the low 20 bytes, or a JSON object with a "user" address field.
// Anything else, including the zero hash, resolves to no user.
func DecodeUser(data []byte) (util.Uint160, bool) {
	var (
		u   util.Uint160
		err error
	)
	switch {
	case len(data) == util.Uint160Size:
		u, err = util.Uint160DecodeBytesBE(data)
	case len(data) == abiWordSize:
		pad := data[:abiWordSize-util.Uint160Size]
		if !bytes.Equal(pad, make([]byte, len(pad))) {
			return util.Uint160{}, false
		}
		u, err = util.Uint160DecodeBytesBE(data[abiWordSize-util.Uint160Size:])
	case len(data) > 0 && data[0] == '{':
		if !gjson.ValidBytes(data) {
			return util.Uint160{}, false
		}
		field := gjson.GetBytes(data, "user")
		if field.Type != gjson.String {
			return util.Uint160{}, false
		}
		u, err = identity.Parse(field.String())
	default:
		return util.Uint160{}, false
	}
	if err != nil || u.Equals(util.Uint160{}) {
		return util.Uint160{}, false
	}
	return u, true
}

// EncodeUser is the 20-byte side-channel form of user.
func EncodeUser(user util.Uint160) []byte {
	return user.BytesBE()
}
