package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ardnew/sdbridge/sdcard"
)

func newISDIOCommand(opts *busOptions) *cobra.Command {
	var (
		fn   uint8
		addr uint32
	)
	cmd := &cobra.Command{
		Use:   "isdio",
		Short: "Access iSDIO extension registers",
	}
	cmd.PersistentFlags().Uint8Var(&fn, "func", 1, "function number (0-7)")
	cmd.PersistentFlags().Uint32Var(&addr, "addr", 0, "register address (17 bits)")

	var length int
	read := &cobra.Command{
		Use:   "read",
		Short: "Read registers and print them as hex",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCard(cmd.Context(), opts, func(_ context.Context, card *sdcard.Card) error {
				r := sdcard.ISDIORead{Func: fn, Addr: addr, Data: make([]byte, length)}
				if err := card.Ioctl(&r); err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), hex.Dump(r.Data))
				return nil
			})
		},
	}
	read.Flags().IntVar(&length, "len", 16, "bytes to read (1-512)")

	write := &cobra.Command{
		Use:   "write HEX",
		Short: "Write hex-encoded bytes to registers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("data: %w", err)
			}
			return withCard(cmd.Context(), opts, func(_ context.Context, card *sdcard.Card) error {
				return card.Ioctl(&sdcard.ISDIOWrite{Func: fn, Addr: addr, Data: data})
			})
		},
	}

	var mask, value uint8
	masked := &cobra.Command{
		Use:   "mask",
		Short: "Update the register bits selected by --mask",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCard(cmd.Context(), opts, func(_ context.Context, card *sdcard.Card) error {
				return card.Ioctl(&sdcard.ISDIOMaskedWrite{Func: fn, Addr: addr, Mask: mask, Data: value})
			})
		},
	}
	masked.Flags().Uint8Var(&mask, "mask", 0xFF, "bits to update")
	masked.Flags().Uint8Var(&value, "value", 0, "new bit values")

	cmd.AddCommand(read, write, masked)
	return cmd
}
