package ibuf

import (
	"crypto/rand"
	"strings"

	"github.com/teris-io/shortid"
)

// hashLen matches the original's makeHash(len=32) default (src/buffer.cpp).
const hashLen = 32

const alphanum = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// HashFunc names an ingested artifact. Buffer calls it once per Push,
// always while holding its own mutex, so a HashFunc used by a single
// Buffer need not be safe for concurrent use.
type HashFunc func() string

// defaultHashFunc returns the module's stock 32-character alphanumeric
// name generator. It draws its entropy from shortid.Generate() (the
// teacher's go.mod pulls in github.com/teris-io/shortid directly),
// concatenating successive IDs and mapping every byte through the
// spec's fixed 62-symbol alphabet until hashLen characters have been
// produced, rather than reusing shortid's own (shorter, base57) output
// alphabet verbatim.
func defaultHashFunc() HashFunc {
	return func() string {
		var sb strings.Builder
		sb.Grow(hashLen)
		for sb.Len() < hashLen {
			id, err := shortid.Generate()
			if err != nil || id == "" {
				// shortid's default generator is process-seeded and
				// essentially infallible; crypto/rand is the fallback
				// entropy source so this loop can never spin forever.
				var buf [8]byte
				_, _ = rand.Read(buf[:])
				id = string(buf[:])
			}
			for i := 0; i < len(id) && sb.Len() < hashLen; i++ {
				sb.WriteByte(alphanum[int(id[i])%len(alphanum)])
			}
		}
		return sb.String()
	}
}
