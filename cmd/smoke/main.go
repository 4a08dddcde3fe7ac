// Package main implements the llmux-smoke command-line tool: a small
// end-to-end harness that exercises a running gateway through each inbound
// dialect and reports what came back.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	logger, err := glog.NewConsoleWithName("llmux-smoke", glog.LevelInfo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %+v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := "chat"
	if len(os.Args) > 1 {
		command = strings.ToLower(strings.TrimSpace(os.Args[1]))
	}

	h := newHarness()
	var execErr error
	switch command {
	case "chat":
		execErr = h.chat(ctx, logger, false)
	case "stream":
		execErr = h.chat(ctx, logger, true)
	case "claude":
		execErr = h.claude(ctx, logger)
	case "gemini":
		execErr = h.gemini(ctx, logger)
	case "models":
		execErr = h.models(ctx, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want chat|stream|claude|gemini|models)\n", command)
		os.Exit(1)
	}

	if execErr != nil {
		logger.Error("command failed", zap.String("command", command), zap.Error(execErr))
		os.Exit(1)
	}
	logger.Info("command completed", zap.String("command", command))
}
