package license

import (
	"crypto/rsa"
	"sync"

	"github.com/sistem64-software/SAKA-QMS/internal/security"
)

// PublicKeyPEM is the vendor's verification key. Replace it with the
// public_key.pem written by cmd/keygen when rotating the issuer key.
const PublicKeyPEM = `-----BEGIN PUBLIC KEY-----
MIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8AMIIBCgKCAQEApwR+WsJwQSimysA4O5Il
b1Oe2xJd/YFBsprDqyoNHu+D1NkSoXNgXo9h6Y09UG9vXQUIWbdoLYKyYYir4fWb
ejWWI3hSSWblLfXzXeHmyToPTAP1a1l/VTC+evDZXN4DZLEHAz4mZOgM6tMQ6oyx
XTGqzqQOzZTKqBPD01IxDtKt3HHSDcSp9/EVSzRKp0ZNeiONhnlqmE7u2cZuuKAC
Vg8lT1h1Q5a15vhbQMhPTi1k3MwwUwHQsFsmv3rzlkPPv5U8/2IOfAHZxcsoXpK1
S6YjiAItbnWFSao2DrdpLdAIp+c0A7bcJSuVg3o6GzYwzBd8EDCUBqX499iJdv0Q
gwIDAQAB
-----END PUBLIC KEY-----
`

var defaultPublicKey = sync.OnceValues(func() (*rsa.PublicKey, error) {
	return security.ParsePublicKeyPEM([]byte(PublicKeyPEM))
})

// DefaultPublicKey parses PublicKeyPEM once.
func DefaultPublicKey() (*rsa.PublicKey, error) {
	return defaultPublicKey()
}
