package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ratingsync/internal/identity"
)

// DeviceOptions holds flags for the device command.
type DeviceOptions struct {
	*RootOptions
	Tablet string
}

// DeviceResult is the output of the device command.
type DeviceResult struct {
	DeviceID     string `json:"deviceId"`
	TabletNumber string `json:"tabletNumber"`
}

// RenderText implements TextRenderer.
func (r DeviceResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Device ID:     %s\nTablet number: %s\n", r.DeviceID, r.TabletNumber)
	return err
}

// NewDeviceCommand creates the device command.
func NewDeviceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeviceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "device",
		Short: "Show or configure the device identity",
		Long: `Show the device id sent with every rating, and set the tablet number.

The device id is generated once per data directory and never changes.

Example:
  ratingsync device
  ratingsync device --tablet 12`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevice(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Tablet, "tablet", "", "set the tablet number")

	return cmd
}

func runDevice(opts *DeviceOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	logger := opts.setupLogging(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "failed to load config", err)
	}
	ag, err := openAgent(cfg, logger)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStorage, "failed to open data directory", err)
	}
	defer ag.Close()

	if cmd.Flags().Changed("tablet") {
		if err := identity.SetTabletNumber(ag.profile, opts.Tablet); err != nil {
			return out.Fail(ExitFailure, CodeStorage, "failed to save tablet number", err)
		}
		out.VerboseLog("tablet number set to %q", opts.Tablet)
	}
	return out.Success(DeviceResult{
		DeviceID:     ag.deviceID,
		TabletNumber: identity.TabletNumber(ag.profile),
	})
}
