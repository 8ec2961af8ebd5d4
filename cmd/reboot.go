package cmd

import (
	"fmt"

	"github.com/kairos-io/go-tdlock/pkg/bootloader"
	"github.com/kairos-io/go-tdlock/pkg/constants"
	"github.com/spf13/cobra"
)

var rebootCmd = &cobra.Command{
	Use:       "reboot trusted|normal",
	Short:     "Reboot into the trusted or the normal OS",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(constants.TargetTrusted), string(constants.TargetNormal)},
	PreRunE: func(cmd *cobra.Command, args []string) error {
		switch constants.Target(args[0]) {
		case constants.TargetTrusted, constants.TargetNormal:
			return nil
		default:
			return fmt.Errorf("unknown target %q", args[0])
		}
	},
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

		return bootloader.NewRebooter(bootloader.NewEFIVariables(), cfg, logger).Reboot(constants.Target(args[0]))
	},
}

func init() {
	rootCmd.AddCommand(rebootCmd)
}
