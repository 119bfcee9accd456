// Command sdbridge drives an SD/MMC card over SPI and serves it, or a
// loopback image, as a SCSI disk over Bulk-Only Transport.
//
// Usage:
//
//	sdbridge [global flags] <command> [flags]
//
// Commands:
//
//	info      Identify the card and print its registers
//	read      Copy sectors from the card to a file
//	write     Copy a file onto card sectors
//	trim      Erase a sector range
//	isdio     Access iSDIO registers
//	serve     Serve the card, an image or a RAM disk as BOT over TCP
//
// Global flags:
//
//	--bus sim|ftdi|spidev|buspirate   SPI bus (default sim)
//	--device NAME                     spidev port or serial device
//	--cs PIN                          chip select GPIO (spidev) or pin (ftdi D3-D7)
//	--image FILE                      backing file of the emulated card
//	--kind sdhc|sdsc|sdv1|mmc         emulated card kind
//	--sectors N                       emulated card size without an image
//	--log-level LEVEL                 debug, info, warn or error
//	--log-json                        JSON log output
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ardnew/sdbridge/pkg"
)

const component = pkg.ComponentCLI

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		opts     busOptions
		logLevel string
		logJSON  bool
	)

	root := &cobra.Command{
		Use:           "sdbridge",
		Short:         "SD/MMC over SPI to SCSI Bulk-Only Transport bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return fmt.Errorf("--log-level: %w", err)
			}
			pkg.SetLogLevel(level)
			if logJSON {
				pkg.SetLogFormat(pkg.LogFormatJSON)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.bus, "bus", busSim, "SPI bus: sim|ftdi|spidev|buspirate")
	flags.StringVar(&opts.device, "device", "", "spidev port name or Bus Pirate serial device")
	flags.StringVar(&opts.cs, "cs", "", "chip select: GPIO name (spidev) or D3-D7 (ftdi)")
	flags.StringVar(&opts.image, "image", "", "backing file of the emulated card (sim)")
	flags.StringVar(&opts.kind, "kind", "sdhc", "emulated card kind: sdhc|sdsc|sdv1|mmc (sim)")
	flags.Uint32Var(&opts.sectors, "sectors", 0, "emulated card size in sectors when no image is given (sim)")
	flags.StringVar(&logLevel, "log-level", "warn", "log level: debug|info|warn|error")
	flags.BoolVar(&logJSON, "log-json", false, "use JSON log format")

	root.AddCommand(
		newInfoCommand(&opts),
		newReadCommand(&opts),
		newWriteCommand(&opts),
		newTrimCommand(&opts),
		newISDIOCommand(&opts),
		newServeCommand(&opts),
	)
	return root
}
