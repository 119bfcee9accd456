package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ardnew/sdbridge/pkg"
	"github.com/ardnew/sdbridge/sdcard"
)

// chunkSectors bounds one driver transfer.
const chunkSectors = 64

func newReadCommand(opts *busOptions) *cobra.Command {
	var (
		sector, count uint32
		out           string
	)
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Copy sectors from the card to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return withCard(cmd.Context(), opts, func(ctx context.Context, card *sdcard.Card) error {
				return readSectors(ctx, card, w, sector, count)
			})
		},
	}
	cmd.Flags().Uint32Var(&sector, "sector", 0, "first sector")
	cmd.Flags().Uint32Var(&count, "count", 1, "number of sectors")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file (- for stdout)")
	return cmd
}

func readSectors(ctx context.Context, card *sdcard.Card, w io.Writer, sector, count uint32) error {
	buf := make([]byte, chunkSectors*sdcard.SectorSize)
	for count > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(count, chunkSectors)
		p := buf[:n*sdcard.SectorSize]
		if err := card.Read(p, sector, n); err != nil {
			return fmt.Errorf("read sector %d: %w", sector, err)
		}
		if _, err := w.Write(p); err != nil {
			return err
		}
		sector += n
		count -= n
	}
	return nil
}

func newWriteCommand(opts *busOptions) *cobra.Command {
	var (
		sector uint32
		in     string
	)
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Copy a file onto card sectors",
		Long:  "Copy a file onto card sectors. The last sector is zero padded.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := cmd.InOrStdin()
			if in != "" && in != "-" {
				f, err := os.Open(in)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			return withCard(cmd.Context(), opts, func(ctx context.Context, card *sdcard.Card) error {
				return writeSectors(ctx, card, r, sector)
			})
		},
	}
	cmd.Flags().Uint32Var(&sector, "sector", 0, "first sector")
	cmd.Flags().StringVarP(&in, "in", "i", "-", "input file (- for stdin)")
	return cmd
}

func writeSectors(ctx context.Context, card *sdcard.Card, r io.Reader, sector uint32) error {
	buf := make([]byte, chunkSectors*sdcard.SectorSize)
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			clear(buf[n:])
			count := uint32((n + sdcard.SectorSize - 1) / sdcard.SectorSize)
			if werr := card.Write(buf[:count*sdcard.SectorSize], sector, count); werr != nil {
				return fmt.Errorf("write sector %d: %w", sector, werr)
			}
			sector += count
			total += n
		}
		switch err {
		case nil:
			continue
		case io.EOF, io.ErrUnexpectedEOF:
			pkg.LogInfo(component, "write complete", "bytes", total, "next", sector)
			return card.Sync()
		default:
			return err
		}
	}
}

func newTrimCommand(opts *busOptions) *cobra.Command {
	var start, end uint32
	cmd := &cobra.Command{
		Use:   "trim",
		Short: "Erase an inclusive sector range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCard(cmd.Context(), opts, func(_ context.Context, card *sdcard.Card) error {
				if err := card.Ioctl(&sdcard.Trim{Start: start, End: end}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "erased sectors %d-%d\n", start, end)
				return nil
			})
		},
	}
	cmd.Flags().Uint32Var(&start, "start", 0, "first sector")
	cmd.Flags().Uint32Var(&end, "end", 0, "last sector")
	return cmd
}
