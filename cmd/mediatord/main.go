// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the mediator daemon.
package main

import (
	"os"

	"github.com/raniksyn/mediator/cmd/mediatord/app"
	"github.com/raniksyn/mediator/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
