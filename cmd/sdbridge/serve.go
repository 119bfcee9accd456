package main

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/sdbridge/device/class/msc"
	"github.com/ardnew/sdbridge/pkg"
	"github.com/ardnew/sdbridge/sdcard"
)

type serveOptions struct {
	listen   string
	loopback string
	memory   uint32
	bank     int
	cfg      msc.Config
}

func newServeCommand(opts *busOptions) *cobra.Command {
	var so serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the card, a loopback image or a RAM disk over TCP",
		Long: `Serve the card, a loopback image or a RAM disk as a BOT disk over TCP.

A client writes each CBW and its OUT data and reads IN data and the CSW on
the same connection. The data phase always has the length the CBW asked
for. Connections are served one at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if so.loopback != "" && so.memory > 0 {
				return errors.New("--loopback and --memory are exclusive")
			}
			if so.memory > 0 {
				return serve(ctx, msc.NewMemoryStorage(so.memory), &so)
			}
			if so.loopback != "" {
				store, err := msc.OpenFileStorage(so.loopback, so.cfg.ReadOnly, msc.DefaultLoopbackBlocks)
				if err != nil {
					return err
				}
				defer store.Close()
				return serve(ctx, store, &so)
			}
			return withCard(ctx, opts, func(ctx context.Context, card *sdcard.Card) error {
				store, err := msc.NewCardStorage(card)
				if err != nil {
					return err
				}
				return serve(ctx, store, &so)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&so.listen, "listen", "127.0.0.1:5125", "TCP listen address")
	flags.StringVar(&so.loopback, "loopback", "", "serve this image file instead of the card (created if missing)")
	flags.Uint32Var(&so.memory, "memory", 0, "serve a RAM disk of this many blocks instead of the card")
	flags.IntVar(&so.bank, "bank", msc.DefaultBankSize, "endpoint bank size in bytes")
	flags.BoolVar(&so.cfg.ReadOnly, "read-only", false, "reject writes")
	flags.IntVar(&so.cfg.LUNs, "luns", 1, "logical units to split the storage into (1-16)")
	flags.StringVar(&so.cfg.Vendor, "vendor", msc.DefaultVendor, "INQUIRY vendor (8 chars)")
	flags.StringVar(&so.cfg.Product, "product", msc.DefaultProduct, "INQUIRY product (16 chars)")
	flags.BoolVar(&so.cfg.Removable, "removable", true, "report removable media")
	return cmd
}

// serve accepts connections until ctx is done.
func serve(ctx context.Context, store msc.Storage, so *serveOptions) error {
	ln, err := net.Listen("tcp", so.listen)
	if err != nil {
		return err
	}
	return serveListener(ctx, ln, store, so)
}

func serveListener(ctx context.Context, ln net.Listener, store msc.Storage, so *serveOptions) error {
	pkg.LogInfo(component, "serving",
		"addr", ln.Addr().String(),
		"blocks", store.BlockCount(),
		"luns", so.cfg.LUNs)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return err
			}
			if err := serveConn(gctx, conn, store, so); err != nil {
				return err
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveConn runs BOT on one connection and closes it. A client hanging up
// is not an error.
func serveConn(ctx context.Context, conn net.Conn, store msc.Storage, so *serveOptions) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	disk, err := msc.New(store, msc.NewStreamIn(conn, so.bank), msc.NewStreamOut(conn, so.bank), so.cfg)
	if err != nil {
		return err
	}
	pkg.LogInfo(component, "client connected",
		"remote", conn.RemoteAddr().String(),
		"maxLUN", disk.MaxLUN())

	err = disk.Run(ctx)
	pkg.LogInfo(component, "client disconnected",
		"remote", conn.RemoteAddr().String(),
		"reason", err)

	var nerr net.Error
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.As(err, &nerr):
		return nil
	}
	return err
}
