// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"github.com/spf13/cobra"

	"github.com/raniksyn/mediator/pkg/config"
	"github.com/raniksyn/mediator/pkg/logger"
	"github.com/raniksyn/mediator/pkg/storage/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply user directory schema migrations and exit",
	Long: `Opens the user directory and applies any pending schema migrations.
The serving commands migrate on startup as well; this command exists for
deployments that migrate as a separate step.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// No Validate here: migrating must not require serving secrets.
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		db, err := sqlite.Open(cmd.Context(), cfg.Stores.UserDirectoryDSN)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		logger.Infow("user directory migrated", "dsn", cfg.Stores.UserDirectoryDSN)
		return nil
	},
}
