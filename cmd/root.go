package cmd

import (
	"os"
	"strings"

	"github.com/kairos-io/go-tdlock/pkg/constants"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   constants.Name,
		Short: "Theft deterrent boot check",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().Bool("debug", false, "Enable debug output")
	cmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
	cmd.PersistentFlags().Bool("kmsg", true, "Mirror log lines into the kernel log")
	cmd.PersistentFlags().String("config", "", "Config file")
	cmd.PersistentFlags().Int("tpm-chip", constants.DefaultTPMChip, "TPM chip index")
	cmd.PersistentFlags().String("mei-device", constants.DefaultMEIDevice, "MEI character device")
	cmd.PersistentFlags().Duration("device-wait", constants.DefaultDeviceWait, "How long to wait for device nodes to appear")
	cmd.PersistentFlags().Duration("receive-timeout", 0, "Firmware reply timeout, 0 waits forever")
	cmd.PersistentFlags().String("trusted-entry", constants.DefaultTrustedEntry, "Loader entry of the trusted OS")
	cmd.PersistentFlags().String("normal-entry", constants.DefaultNormalEntry, "Loader entry of the normal OS")
	cmd.PersistentFlags().Bool("dry-run", false, "Log reboots instead of performing them")
	_ = viper.BindPFlags(cmd.PersistentFlags())

	viper.SetEnvPrefix(constants.Name)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	cmd.CompletionOptions = cobra.CompletionOptions{
		DisableDefaultCmd: true,
	}
	return cmd
}

// initConfig reads the config file, if one was given.
func initConfig() error {
	file := viper.GetString("config")
	if file == "" {
		return nil
	}

	viper.SetConfigFile(file)

	return viper.ReadInConfig()
}

var rootCmd = NewRootCmd()

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
