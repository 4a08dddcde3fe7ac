// Package logger exposes the process-wide structured logger. Request-scoped
// logging should prefer gmw.GetLogger(c) so every line carries the request id.
package logger

import (
	"context"
	"fmt"
	"os"

	gmw "github.com/Laisky/gin-middlewares/v7"
	glog "github.com/Laisky/go-utils/v6/log"
)

// Logger is the global fallback logger for code running outside a request.
var Logger glog.Logger

func init() {
	var err error
	Logger, err = glog.NewConsoleWithName("llmux", glog.LevelInfo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %+v\n", err)
		os.Exit(1)
	}
}

// Setup adjusts the global level once configuration is known.
func Setup(debug bool) {
	if debug {
		_ = Logger.ChangeLevel(glog.LevelDebug)
	}
}

// FromContext returns the request logger embedded in ctx when present and
// falls back to the global logger otherwise.
func FromContext(ctx context.Context) glog.Logger {
	if ctx != nil {
		if ginCtx, ok := gmw.GetGinCtxFromStdCtx(ctx); ok {
			return gmw.GetLogger(ginCtx)
		}
	}
	return Logger
}
