package common

import "time"

// Version is stamped at build time via -ldflags.
var Version = "v0.0.0-dev"

// StartTime records process start for uptime reporting.
var StartTime = time.Now()
