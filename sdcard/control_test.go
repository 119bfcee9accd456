package sdcard_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/sdbridge/pkg"
	"github.com/ardnew/sdbridge/sdcard"
	"github.com/ardnew/sdbridge/sdcard/sdsim"
)

func TestIoctlSectorCount(t *testing.T) {
	for _, tt := range kinds {
		t.Run(tt.kind.String(), func(t *testing.T) {
			c, sim := initCard(t, sdsim.Config{Kind: tt.kind, Sectors: 16384})
			got, err := c.SectorCount()
			if err != nil {
				t.Fatalf("SectorCount() = %v", err)
			}
			if want := sim.Config().Sectors; got != want {
				t.Errorf("SectorCount() = %d, want %d", got, want)
			}
		})
	}
}

func TestIoctlEraseBlockSize(t *testing.T) {
	tests := []struct {
		kind sdsim.Kind
		want uint32
	}{
		{sdsim.KindSDv2Block, 16 << sdsim.DefaultAUSize},
		{sdsim.KindSDv2Byte, 16 << sdsim.DefaultAUSize},
		{sdsim.KindSDv1, 32},
		{sdsim.KindMMC, 32},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			c, _ := initCard(t, sdsim.Config{Kind: tt.kind})
			var r sdcard.EraseBlockSize
			if err := c.Ioctl(&r); err != nil {
				t.Fatalf("Ioctl() = %v", err)
			}
			if r.Sectors != tt.want {
				t.Errorf("Sectors = %d, want %d", r.Sectors, tt.want)
			}
		})
	}
}

func TestIoctlTrim(t *testing.T) {
	for _, kind := range []sdsim.Kind{sdsim.KindSDv2Block, sdsim.KindSDv2Byte, sdsim.KindSDv1} {
		t.Run(kind.String(), func(t *testing.T) {
			c, sim := initCard(t, sdsim.Config{Kind: kind})
			data := pattern(8, 0xA5)
			if err := c.Write(data, 0, 8); err != nil {
				t.Fatalf("Write() = %v", err)
			}
			sim.ResetLog()

			if err := c.Ioctl(&sdcard.Trim{Start: 2, End: 4}); err != nil {
				t.Fatalf("Ioctl(Trim) = %v", err)
			}

			scale := uint32(sdcard.SectorSize)
			if kind == sdsim.KindSDv2Block {
				scale = 1
			}
			for _, op := range sim.Log() {
				switch op.Cmd {
				case sdcard.CmdEraseWrBlkStart:
					if op.Arg != 2*scale {
						t.Errorf("%s argument = %d, want %d", op.Cmd, op.Arg, 2*scale)
					}
				case sdcard.CmdEraseWrBlkEnd:
					if op.Arg != 4*scale {
						t.Errorf("%s argument = %d, want %d", op.Cmd, op.Arg, 4*scale)
					}
				}
			}
			if !hasCommand(sim, sdcard.CmdErase) {
				t.Errorf("sent %v, want %s", commands(sim), sdcard.CmdErase)
			}

			got := make([]byte, len(data))
			if err := c.Read(got, 0, 8); err != nil {
				t.Fatalf("Read() = %v", err)
			}
			zero := make([]byte, 3*sdcard.SectorSize)
			if !bytes.Equal(got[2*sdcard.SectorSize:5*sdcard.SectorSize], zero) {
				t.Error("trimmed sectors not erased")
			}
			if !bytes.Equal(got[:2*sdcard.SectorSize], data[:2*sdcard.SectorSize]) ||
				!bytes.Equal(got[5*sdcard.SectorSize:], data[5*sdcard.SectorSize:]) {
				t.Error("sectors outside the trimmed range changed")
			}
		})
	}
}

func TestIoctlTrimRejected(t *testing.T) {
	tests := []struct {
		name string
		cfg  sdsim.Config
		trim sdcard.Trim
		want error
	}{
		{"mmc", sdsim.Config{Kind: sdsim.KindMMC}, sdcard.Trim{Start: 0, End: 1}, pkg.ErrNotSupported},
		{"block erase disabled", sdsim.Config{Kind: sdsim.KindSDv1, NoBlockErase: true}, sdcard.Trim{Start: 0, End: 1}, pkg.ErrNotSupported},
		{"reversed range", sdsim.Config{}, sdcard.Trim{Start: 5, End: 4}, pkg.ErrParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, sim := initCard(t, tt.cfg)
			trim := tt.trim
			if err := c.Ioctl(&trim); !errors.Is(err, tt.want) {
				t.Errorf("Ioctl(Trim) = %v, want %v", err, tt.want)
			}
			if hasCommand(sim, sdcard.CmdErase) {
				t.Errorf("sent %s for a rejected trim", sdcard.CmdErase)
			}
		})
	}
}

func TestIoctlRegisters(t *testing.T) {
	for _, tt := range kinds {
		t.Run(tt.kind.String(), func(t *testing.T) {
			c, _ := initCard(t, sdsim.Config{Kind: tt.kind, Serial: 0xCAFE})

			var ty sdcard.TypeQuery
			if err := c.Ioctl(&ty); err != nil || ty.Type != tt.want {
				t.Errorf("Ioctl(TypeQuery) = %s, %v, want %s", ty.Type, err, tt.want)
			}

			var csd sdcard.CSDRead
			if err := c.Ioctl(&csd); err != nil {
				t.Fatalf("Ioctl(CSDRead) = %v", err)
			}
			wantStructure := uint8(0)
			if tt.kind == sdsim.KindSDv2Block {
				wantStructure = 1
			}
			if got := csd.Register.Structure(); got != wantStructure {
				t.Errorf("CSD Structure() = %d, want %d", got, wantStructure)
			}

			var cid sdcard.CIDRead
			if err := c.Ioctl(&cid); err != nil {
				t.Fatalf("Ioctl(CIDRead) = %v", err)
			}
			if got := cid.Register.ProductName(); got != "SDSIM" {
				t.Errorf("CID ProductName() = %q, want %q", got, "SDSIM")
			}
			if got := cid.Register.Serial(); got != 0xCAFE {
				t.Errorf("CID Serial() = %#x, want 0xcafe", got)
			}

			var ocr sdcard.OCRRead
			if err := c.Ioctl(&ocr); err != nil {
				t.Fatalf("Ioctl(OCRRead) = %v", err)
			}
			if !ocr.Register.PowerUp() {
				t.Error("OCR PowerUp() = false, want true")
			}
			if got, want := ocr.Register.HighCapacity(), tt.want&sdcard.TypeBlock != 0; got != want {
				t.Errorf("OCR HighCapacity() = %v, want %v", got, want)
			}
		})
	}
}

func TestIoctlSDStatus(t *testing.T) {
	c, _ := initCard(t, sdsim.Config{AUSize: 9})
	var r sdcard.SDStatusRead
	if err := c.Ioctl(&r); err != nil {
		t.Fatalf("Ioctl(SDStatusRead) = %v", err)
	}
	if got := r.Register.AUSize(); got != 9 {
		t.Errorf("AUSize() = %d, want 9", got)
	}
}

func TestIoctlPowerOff(t *testing.T) {
	c, sim := initCard(t, sdsim.Config{})
	if err := c.Ioctl(&sdcard.PowerOff{}); err != nil {
		t.Fatalf("Ioctl(PowerOff) = %v", err)
	}
	if sim.Powered() {
		t.Error("card powered after PowerOff")
	}
	if n := sim.Exchanges(); n != 0 {
		t.Errorf("bus exchanges during PowerOff = %d, want 0", n)
	}
	if got := c.Status(); got&sdcard.StatusNoInit == 0 {
		t.Errorf("Status() = %s, want NOINIT", got)
	}
	buf := make([]byte, sdcard.SectorSize)
	if err := c.Read(buf, 0, 1); !errors.Is(err, pkg.ErrNotReady) {
		t.Errorf("Read() = %v, want %v", err, pkg.ErrNotReady)
	}
	if err := c.Initialize(); err != nil {
		t.Errorf("Initialize() = %v", err)
	}
}

func TestIoctlSync(t *testing.T) {
	c, _ := initCard(t, sdsim.Config{})
	if err := c.Sync(); err != nil {
		t.Errorf("Sync() = %v", err)
	}
}

// foreign satisfies Control through embedding but is not a request the
// driver knows.
type foreign struct {
	sdcard.Sync
}

func TestIoctlInvalid(t *testing.T) {
	c, _ := initCard(t, sdsim.Config{})

	tests := []struct {
		name string
		ctl  sdcard.Control
	}{
		{"nil", nil},
		{"unknown", &foreign{}},
		{"isdio read empty", &sdcard.ISDIORead{Data: nil}},
		{"isdio write too long", &sdcard.ISDIOWrite{Data: make([]byte, sdcard.SectorSize+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Ioctl(tt.ctl); !errors.Is(err, pkg.ErrParam) {
				t.Errorf("Ioctl() = %v, want %v", err, pkg.ErrParam)
			}
		})
	}
}

func TestIoctlISDIO(t *testing.T) {
	c, sim := initCard(t, sdsim.Config{})

	want := []byte{0x11, 0x22, 0x33, 0x44}
	if err := c.Ioctl(&sdcard.ISDIOWrite{Func: 1, Addr: 0x100, Data: want}); err != nil {
		t.Fatalf("Ioctl(ISDIOWrite) = %v", err)
	}
	for i, b := range want {
		if got := sim.Register(1, 0x100+uint32(i)); got != b {
			t.Errorf("Register(1, %#x) = %#x, want %#x", 0x100+i, got, b)
		}
	}
	if got := sim.Register(1, 0x104); got != 0 {
		t.Errorf("Register(1, 0x104) = %#x, want 0 (padding must not be stored)", got)
	}

	r := sdcard.ISDIORead{Func: 1, Addr: 0x100, Data: make([]byte, len(want))}
	if err := c.Ioctl(&r); err != nil {
		t.Fatalf("Ioctl(ISDIORead) = %v", err)
	}
	if !bytes.Equal(r.Data, want) {
		t.Errorf("ISDIORead data = % x, want % x", r.Data, want)
	}

	sim.SetRegister(2, 0x200, 0xF0)
	if err := c.Ioctl(&sdcard.ISDIOMaskedWrite{Func: 2, Addr: 0x200, Mask: 0x0F, Data: 0x35}); err != nil {
		t.Fatalf("Ioctl(ISDIOMaskedWrite) = %v", err)
	}
	if got := sim.Register(2, 0x200); got != 0xF5 {
		t.Errorf("Register(2, 0x200) = %#x, want 0xf5", got)
	}

	// The card must still answer ordinary commands afterwards.
	buf := make([]byte, sdcard.SectorSize)
	if err := c.Read(buf, 0, 1); err != nil {
		t.Errorf("Read() after iSDIO = %v", err)
	}
}
