// Package logutil carries the small slog attribute helpers shared by the
// server and the command line front end.
package logutil

import (
	"fmt"
	"log/slog"

	"github.com/lmittmann/tint"
)

// ErrorAttr reports err under the conventional "err" key, tinted red on
// terminal handlers.
func ErrorAttr(err error) slog.Attr {
	return tint.Err(err)
}

// StringerAttr defers value.String() until the record is actually emitted.
func StringerAttr(key string, value fmt.Stringer) slog.Attr {
	return slog.Any(key, lazyStringer{value})
}

type lazyStringer struct {
	fmt.Stringer
}

var _ slog.LogValuer = lazyStringer{}

func (ls lazyStringer) LogValue() slog.Value {
	return slog.StringValue(ls.String())
}
