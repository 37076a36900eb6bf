package order

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"

	"turbo/internal/types"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// newID returns ORD-<epoch ms>-<9 random base36 chars>, upper-cased.
func newID(now time.Time) types.ID {
	var b strings.Builder
	b.WriteString("ORD-")
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	b.WriteByte('-')
	max := big.NewInt(int64(len(idAlphabet)))
	for i := 0; i < 9; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			n = big.NewInt(int64(now.UnixNano()>>uint(i)) % max.Int64())
		}
		b.WriteByte(idAlphabet[n.Int64()])
	}
	return types.ID(strings.ToUpper(b.String()))
}
