package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/kairos-io/go-tdlock/pkg/bootloader"
	"github.com/kairos-io/go-tdlock/pkg/firmware"
	"github.com/kairos-io/go-tdlock/pkg/mei"
	"github.com/kairos-io/go-tdlock/pkg/secureboot"
	"github.com/kairos-io/go-tdlock/pkg/tpm12"
	"github.com/kairos-io/go-tdlock/pkg/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// status is what the status command reports. Fields that could not be read carry the error instead.
type status struct {
	Ticks      *uint32          `json:"ticks,omitempty"`
	TicksError string           `json:"ticks_error,omitempty"`
	Supported  *bool            `json:"supported,omitempty"`
	TrustedOS  *bool            `json:"trusted_os,omitempty"`
	SecureBoot secureboot.State `json:"secureboot"`
	TPM        *tpmStatus       `json:"tpm,omitempty"`
	Errors     []string         `json:"errors,omitempty"`
}

type tpmStatus struct {
	Version      string `json:"version"`
	Manufacturer string `json:"manufacturer"`
	PCRs         uint32 `json:"pcrs"`
	Enabled      bool   `json:"enabled"`
	Active       bool   `json:"active"`
	Owned        bool   `json:"owned"`
	NVLocked     bool   `json:"nv_locked"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the secure clock, provisioning and TPM state",
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

		s := collectStatus(cmd.Context(), cfg, logger, viper.GetBool("tpm"))

		if viper.GetBool("json") {
			return printJSON(cmd.OutOrStdout(), s)
		}

		printStatus(cmd.OutOrStdout(), s)

		return nil
	},
}

func collectStatus(ctx context.Context, cfg types.Config, logger *slog.Logger, withTPM bool) status {
	var s status

	waitForMEI(cfg, logger)

	transport := mei.NewTransport(cfg.MEIDevice, mei.WithReceiveTimeout(cfg.ReceiveTimeout), mei.WithLogger(logger))

	if ticks, err := firmware.NewClock(transport, logger).Ticks(ctx); err != nil {
		s.TicksError = err.Error()
	} else {
		s.Ticks = &ticks
	}

	if record, err := firmware.NewProvisioning(transport, logger).Record(ctx); err != nil {
		s.Errors = append(s.Errors, err.Error())
	} else {
		supported := record.Supported()
		s.Supported = &supported
	}

	if trusted, err := bootloader.NewBootReason(bootloader.NewEFIVariables(), cfg.TrustedEntry).IsTrustedOS(ctx); err != nil {
		s.Errors = append(s.Errors, err.Error())
	} else {
		s.TrustedOS = &trusted
	}

	s.SecureBoot = secureboot.NewReader().State()

	if withTPM {
		tpm := &lazyTPM{cfg: cfg, logger: logger}
		defer tpm.Close() //nolint:errcheck

		t, err := collectTPM(ctx, tpm12.NewModule(tpm, logger))
		if err != nil {
			s.Errors = append(s.Errors, err.Error())
		} else {
			s.TPM = t
		}
	}

	return s
}

func collectTPM(ctx context.Context, module *tpm12.Module) (*tpmStatus, error) {
	var t tpmStatus

	version, err := module.Version(ctx)
	if err != nil {
		return nil, err
	}

	t.Version = version.String()

	manufacturer, err := module.Manufacturer(ctx)
	if err != nil {
		return nil, err
	}

	t.Manufacturer = manufacturer.String()

	if t.PCRs, err = module.PCRCount(ctx); err != nil {
		return nil, err
	}

	flags, err := module.PermanentFlags(ctx)
	if err != nil {
		return nil, err
	}

	t.Enabled = !flags.Disable
	t.Active = !flags.Deactivated
	t.NVLocked = flags.NVLocked

	if t.Owned, err = module.IsOwned(ctx); err != nil {
		return nil, err
	}

	return &t, nil
}

func printStatus(w io.Writer, s status) {
	if s.Ticks != nil {
		fmt.Fprintf(w, "Secure clock:  %d\n", *s.Ticks)
	} else {
		fmt.Fprintf(w, "Secure clock:  unavailable (%s)\n", s.TicksError)
	}

	fmt.Fprintf(w, "Supported:     %s\n", optional(s.Supported))
	fmt.Fprintf(w, "Trusted OS:    %s\n", optional(s.TrustedOS))
	fmt.Fprintf(w, "Secure Boot:   %s\n", s.SecureBoot)

	if s.TPM != nil {
		fmt.Fprintf(w, "TPM:           %s %s, %d PCRs\n", s.TPM.Manufacturer, s.TPM.Version, s.TPM.PCRs)
		fmt.Fprintf(w, "  enabled:     %t\n", s.TPM.Enabled)
		fmt.Fprintf(w, "  active:      %t\n", s.TPM.Active)
		fmt.Fprintf(w, "  owned:       %t\n", s.TPM.Owned)
		fmt.Fprintf(w, "  nv locked:   %t\n", s.TPM.NVLocked)
	}

	for _, e := range s.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}
}

func optional(b *bool) string {
	if b == nil {
		return "unknown"
	}

	return fmt.Sprintf("%t", *b)
}

func init() {
	statusCmd.Flags().Bool("json", false, "Print JSON")
	statusCmd.Flags().Bool("tpm", false, "Also query the TPM")
	_ = viper.BindPFlags(statusCmd.Flags())
	rootCmd.AddCommand(statusCmd)
}
