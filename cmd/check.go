package cmd

import (
	"fmt"

	"github.com/kairos-io/go-tdlock/pkg/bootcert"
	"github.com/kairos-io/go-tdlock/pkg/bootloader"
	"github.com/kairos-io/go-tdlock/pkg/decision"
	"github.com/kairos-io/go-tdlock/pkg/firmware"
	"github.com/kairos-io/go-tdlock/pkg/mei"
	"github.com/kairos-io/go-tdlock/pkg/tpm12"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the boot check and act on its verdict",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger, release, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer release()

		logger.Info("Starting boot check", "tpm", cfg.TPMDevice(), "mei", cfg.MEIDevice, "dry_run", cfg.DryRun)

		tpm := &lazyTPM{cfg: cfg, logger: logger}
		defer tpm.Close() //nolint:errcheck

		waitForMEI(cfg, logger)

		transport := mei.NewTransport(cfg.MEIDevice, mei.WithReceiveTimeout(cfg.ReceiveTimeout), mei.WithLogger(logger))
		module := tpm12.NewModule(tpm, logger)
		vars := bootloader.NewEFIVariables()

		engine := decision.NewEngine(
			firmware.NewProvisioning(transport, logger),
			firmware.NewClock(transport, logger),
			module,
			bootcert.NewStore(module),
			bootloader.NewBootReason(vars, cfg.TrustedEntry),
			logger,
		)

		d := engine.Decide(cmd.Context())
		fmt.Fprintln(cmd.OutOrStdout(), d.Verdict)

		return bootloader.NewRebooter(vars, cfg, logger).Apply(d)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
