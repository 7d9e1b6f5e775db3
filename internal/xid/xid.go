package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	OrderPrefix        = "ord"
	OfflineOrderPrefix = "off"
)

// New returns "<prefix>-<unixnano>-<16 hex chars>".
func New(prefix string) string {
	return newAt(prefix, time.Now())
}

func newAt(prefix string, at time.Time) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, at.UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, at.UnixNano(), hex.EncodeToString(buf))
}

func NewOrderID() string {
	return New(OrderPrefix)
}

func NewOfflineOrderID() string {
	return New(OfflineOrderPrefix)
}

// IsOfflineOrderID reports whether id was minted on a disconnected terminal.
func IsOfflineOrderID(id string) bool {
	return strings.HasPrefix(id, OfflineOrderPrefix+"-")
}
