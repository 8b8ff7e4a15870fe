// Package observability builds the process logger and metric collectors.
package observability

import (
	"strings"

	"go.uber.org/zap"
)

// NewLogger builds a zap logger. "prod"/"production" gives JSON output at
// info level; anything else gives the human-readable development config.
func NewLogger(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}
