package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds the process-wide logger. Production config writes JSON to
// stderr; debug switches to the human-readable development encoder and
// enables debug-level output.
func New(debug bool) (*zap.Logger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return l, nil
}
