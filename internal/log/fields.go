package log

import (
	"time"

	"go.uber.org/zap"
)

// Field constructors re-exported so callers never import zap directly,
// matching the reference gateway's log.String/log.Int/log.Cause surface.

func String(key, val string) zap.Field { return zap.String(key, val) }

func Int(key string, val int) zap.Field { return zap.Int(key, val) }

func Bool(key string, val bool) zap.Field { return zap.Bool(key, val) }

func Duration(key string, val time.Duration) zap.Field { return zap.Duration(key, val) }

func Any(key string, val any) zap.Field { return zap.Any(key, val) }

// Cause logs err under the conventional "error" key.
func Cause(err error) zap.Field { return zap.Error(err) }
