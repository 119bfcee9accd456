package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ardnew/sdbridge/sdcard"
)

func newInfoCommand(opts *busOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Identify the card and print its registers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCard(cmd.Context(), opts, func(_ context.Context, card *sdcard.Card) error {
				return printInfo(cmd.OutOrStdout(), card)
			})
		},
	}
}

func printInfo(w io.Writer, card *sdcard.Card) error {
	sectors, err := card.SectorCount()
	if err != nil {
		return err
	}
	var (
		csd sdcard.CSDRead
		cid sdcard.CIDRead
		ocr sdcard.OCRRead
		ebs sdcard.EraseBlockSize
	)
	for _, ctl := range []sdcard.Control{&csd, &cid, &ocr, &ebs} {
		if err := card.Ioctl(ctl); err != nil {
			return err
		}
	}

	year, month := cid.Register.ManufactureDate()
	fmt.Fprintf(w, "type:          %s\n", card.Type())
	fmt.Fprintf(w, "status:        %s\n", card.Status())
	fmt.Fprintf(w, "capacity:      %d sectors (%d MiB)\n", sectors, uint64(sectors)*sdcard.SectorSize>>20)
	fmt.Fprintf(w, "erase block:   %d sectors\n", ebs.Sectors)
	fmt.Fprintf(w, "CSD structure: %d\n", csd.Register.Structure())
	fmt.Fprintf(w, "write protect: permanent=%v temporary=%v\n",
		csd.Register.PermanentWriteProtect(), csd.Register.TemporaryWriteProtect())
	fmt.Fprintf(w, "manufacturer:  %#02x oem %q\n", cid.Register.ManufacturerID(), cid.Register.OEMID())
	fmt.Fprintf(w, "product:       %q rev %s\n", cid.Register.ProductName(), cid.Register.Revision())
	fmt.Fprintf(w, "serial:        %#08x\n", cid.Register.Serial())
	fmt.Fprintf(w, "manufactured:  %04d-%02d\n", year, month)
	fmt.Fprintf(w, "OCR:           % x (high capacity %v)\n", ocr.Register, ocr.Register.HighCapacity())

	if card.Type()&sdcard.TypeSD2 != 0 {
		var st sdcard.SDStatusRead
		if err := card.Ioctl(&st); err != nil {
			return err
		}
		fmt.Fprintf(w, "AU size:       %d (%d sectors)\n", st.Register.AUSize(), st.Register.EraseBlockSectors())
	}
	return nil
}
