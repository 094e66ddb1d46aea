// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the command tree for the mediator daemon.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/raniksyn/mediator/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "mediatord",
	DisableAutoGenTag: true,
	Short:             "mediatord is the access-control plane for retrieval tools",
	Long: `mediatord fronts a set of retrieval tools (web, vector, relational)
with a two-tier access control plane: a gateway that terminates client
authentication and issues short-lived credentials, and a tool server that
enforces per-tool and per-resource authorization, rate limits, and
response caching before dispatching to retriever back-ends.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorw("failed to display help", "error", err)
		}
	},
}

// NewRootCmd creates the root command for the mediator daemon.
func NewRootCmd() *cobra.Command {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a configuration file")
	flags.String("profile", "", "Middleware profile (minimal, auth_only, auth_with_context, auth_with_cache, full, custom)")
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("profile", flags.Lookup("profile"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(toolServerCmd)
	rootCmd.AddCommand(migrateCmd)

	return rootCmd
}
