// Copyright 2025 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// setupLogging installs the default logger. The returned closer releases the
// log file, if any.
func setupLogging(cfg *LogConfig) io.Closer {
	var (
		output   io.Writer = os.Stderr
		closer   io.Closer = nopCloser{}
		useColor           = !cfg.JSON && cfg.File == "" && os.Getenv("TERM") != "dumb" &&
			(isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()))
	)
	if useColor {
		output = colorable.NewColorableStderr()
	}
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: 10,
			Compress:   true,
		}
		output = io.MultiWriter(output, rotating)
		closer = rotating
	}
	var handler slog.Handler
	if cfg.JSON {
		handler = log.JSONHandler(output)
	} else {
		handler = log.NewTerminalHandler(output, useColor)
	}
	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(log.FromLegacyLevel(cfg.Verbosity))
	log.SetDefault(log.NewLogger(glogger))
	return closer
}
