// Package spibus defines the byte-level serial bus used to talk to SD/MMC
// cards in SPI mode.
//
// The [Bus] interface is deliberately small: a full-duplex byte exchange,
// bulk receive and transmit, chip select, and a two-regime clock. Adapters
// live in sub-packages:
//
//   - [github.com/ardnew/sdbridge/spibus/periph] for periph.io hosts,
//     including FTDI MPSSE bridges and Linux spidev
//   - [github.com/ardnew/sdbridge/spibus/tinygo] for TinyGo targets
//   - [github.com/ardnew/sdbridge/spibus/buspirate] for a Bus Pirate in
//     binary SPI mode over a serial port
//
// [ByteBus] turns any single-byte exchanger into a Bus.
package spibus
