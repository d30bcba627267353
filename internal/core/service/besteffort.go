package service

import (
	"github.com/yndnr/cfenv-go/internal/telemetry/logger"
)

// BestEffort runs fn and logs a failure at warn level instead of returning
// it. It reports whether fn succeeded.
//
// Only cleanup steps whose failure must not fail the surrounding operation
// go through here.
func BestEffort(log logger.Logger, action string, fn func() error, args ...any) bool {
	err := fn()
	if err == nil {
		return true
	}
	if log == nil {
		log = logger.Default()
	}
	log.Warn(action+" failed, ignoring", append(args, "error", err)...)
	return false
}
