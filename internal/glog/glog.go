// Package glog provides value helpers for use with log/slog.
package glog

import (
	"encoding/hex"
	"fmt"
)

type hexValue []byte

func (v hexValue) String() string {
	return hex.EncodeToString(v)
}

// Hex wraps b so that it renders as lowercase hex,
// deferring the encoding until the log line is actually emitted.
func Hex[T ~[]byte](b T) fmt.Stringer {
	return hexValue(b)
}
