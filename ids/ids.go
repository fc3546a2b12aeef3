// Package ids generates the identifiers used on the wire: command correlation
// ids and session ids.
package ids

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

func init() {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic(fmt.Sprintf("crypto/rand is unavailable: Read() failed with %#v", err))
	}
}

const suffixLetters = "0123456789abcdefghijklmnopqrstuvwxyz"

// RandomString returns a securely generated random string of n characters drawn from letters
func RandomString(letters string, n int) (string, error) {
	ret := make([]byte, n)
	max := big.NewInt(int64(len(letters)))
	for i := range n {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		ret[i] = letters[num.Int64()]
	}
	return string(ret), nil
}

var sequence atomic.Uint64

// NewCommandID returns a correlation id of the form <unix-millis>-<seq>-<random>.
// The per-process sequence keeps ids distinct even when the random source fails
// or two ids are minted in the same millisecond.
func NewCommandID() string {
	seq := sequence.Add(1)
	suffix, err := RandomString(suffixLetters, 6)
	if err != nil {
		suffix = uuid.NewString()[:8]
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + strconv.FormatUint(seq, 36) + "-" + suffix
}

// NewSessionID returns a new opaque session identifier
func NewSessionID() string {
	return "sess_" + uuid.NewString()
}
