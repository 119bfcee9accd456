// Package sdcard drives SD and MMC cards in SPI mode over a spibus.Bus.
//
// A Card negotiates the card generation (MMC ver 3, SD ver 1, SD ver 2
// with byte or block addressing) during Initialize, then moves 512-byte
// sectors with single and multiple block commands. Ioctl exposes the
// control requests: capacity, erase unit, trim, register reads, power
// off and iSDIO extension register access.
//
// # Timing
//
// Every bounded wait is measured in ticks of TickPeriod. The ticks come
// from TimerService, which must be called from somewhere other than the
// goroutine doing card I/O. Run provides a ticker-driven loop:
//
//	card := sdcard.New(bus, sdcard.WithSocket(socket))
//	go card.Run(ctx, sdcard.TickPeriod)
//	if err := card.Initialize(); err != nil {
//		return err
//	}
//
// TimerService also samples the socket switches, so card removal and the
// write protect switch are reflected by Status between ticks.
//
// # Concurrency
//
// Card I/O is single-threaded. Only Status, TimerService and Run may be
// called concurrently with the other methods.
package sdcard
