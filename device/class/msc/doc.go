// Package msc serves a block Storage to a host as a SCSI direct-access
// device over USB Mass Storage Bulk-Only Transport (BOT).
//
// # Bulk-Only Transport
//
// Each command has three phases:
//
//  1. Command phase: the host sends a 31-byte Command Block Wrapper (CBW)
//  2. Data phase: optional transfer in the direction the CBW names
//  3. Status phase: the device returns a 13-byte Command Status Wrapper (CSW)
//
// [MSC.Run] implements the loop over an endpoint pair. The data phase is
// always completed to the length the host asked for: IN data is padded and
// surplus OUT data is drained, and the CSW residue reports the difference.
// [MSC.Reset] is the Mass Storage Reset class request; the command in flight
// stops at its next wait and gets no CSW. [MSC.MaxLUN] answers GET MAX LUN.
//
// # SCSI commands
//
// [MSC.Decode] executes one command block:
//
//   - INQUIRY, REQUEST SENSE, MODE SENSE(6)
//   - READ CAPACITY(10), READ FORMAT CAPACITIES
//   - READ(10), WRITE(10)
//   - SEND DIAGNOSTIC (self-test only), SYNCHRONIZE CACHE(10)
//   - TEST UNIT READY, START STOP UNIT, PREVENT ALLOW MEDIUM REMOVAL and
//     VERIFY(10), which succeed without data
//
// Any other operation code fails with ILLEGAL REQUEST. Sense data persists
// until the next command completes.
//
// # Endpoints
//
// [InEndpoint] and [OutEndpoint] model single-bank bulk endpoints. Block
// transfers are copied one 512-byte sector at a time between storage and
// the bank, turning the bank whenever it fills or drains. [StreamIn] and
// [StreamOut] adapt any byte stream, so a net.Conn carries BOT directly:
//
//	store := msc.NewMemoryStorage(8192)
//	disk, err := msc.New(store, msc.NewStreamIn(conn, 0), msc.NewStreamOut(conn, 0), msc.Config{})
//	if err != nil {
//		return err
//	}
//	return disk.Run(ctx)
//
// # Storage
//
//   - [CardStorage]: an SD/MMC card through package sdcard
//   - [MemoryStorage]: RAM disk
//   - [FileStorage]: loopback image file
//
// Config.LUNs splits the storage into equal logical units.
package msc
