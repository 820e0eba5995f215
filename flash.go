package qflash

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// Flash drives a W25Q128-class SPI NOR flash. It is the only component
// that touches the chip select; callers own the Flash for the duration of
// one operation.
type Flash struct {
	conn spi.Conn
	cs   gpio.PinIO
	id   [3]byte // JEDEC ID of the flash chip
	pr   *flashParams

	fastRead bool
}

func NewFlash(conn spi.Conn, cs gpio.PinIO) *Flash {
	return &Flash{conn: conn, cs: cs}
}

// Flash commands:
//   - [W25Q128|8.1.2 Instruction Set Table 1]
//   - [N25Q32|Table 16: Command Set]
const (
	flashCmdPowerUp            = 0xAB // Release Power Down
	flashCmdPowerDown          = 0xB9
	flashCmdReadID             = 0x9F
	flashCmdRead               = 0x03
	flashCmdFastRead           = 0x0B
	flashCmdWriteEnable        = 0x06
	flashCmdPageProgram        = 0x02
	flashCmdErase4KB           = 0x20 // Sector Erase (4KB)
	flashCmdErase32KB          = 0x52 // Block Erase (32KB)
	flashCmdErase64KB          = 0xD8 // Block Erase (64KB)
	flashCmdEraseChip          = 0xC7
	flashCmdReadStatusRegister = 0x05
)

const (
	pageSize   = 256
	sectorSize = 4 << 10
	block32    = 32 << 10
	block64    = 64 << 10
)

var (
	// ErrBusyTimeout means WIP did not clear within the chip's datasheet
	// bound for the operation.
	ErrBusyTimeout = errors.New("qflash: busy wait timeout")

	// ErrWriteEnable means WEL was not set after a Write-Enable command.
	ErrWriteEnable = errors.New("qflash: write enable latch not set")
)

// Info describes the attached chip's geometry.
type Info struct {
	JEDECID    [3]byte
	Name       string
	TotalSize  uint32
	PageSize   uint32
	SectorSize uint32
}

// tx wraps SPI transaction with CS assertion.
func (f *Flash) tx(buf []byte) (err error) {
	if err = f.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer func() {
		if csErr := f.cs.Out(gpio.High); csErr != nil && err == nil {
			err = csErr
		}
	}()
	err = f.conn.Tx(buf, buf)
	return
}

func (f *Flash) PowerUp() error {
	buf := []byte{flashCmdPowerUp}
	if err := f.tx(buf); err != nil {
		return err
	}
	time.Sleep(f.tRES1())
	return nil
}

func (f *Flash) PowerDown() error {
	buf := []byte{flashCmdPowerDown}
	if err := f.tx(buf); err != nil {
		return err
	}
	time.Sleep(f.tDP())
	return nil
}

// SetFastRead selects the Fast-Read opcode (0x0B, one dummy byte) for
// subsequent reads.
func (f *Flash) SetFastRead(on bool) { f.fastRead = on }

// ReadID returns the JEDEC ID of the flash chip and configures its
// parameters. It returns a non-empty name for known IDs.
func (f *Flash) ReadID() (id [3]byte, name string, err error) {
	buf := make([]byte, 4)
	buf[0] = flashCmdReadID

	if err = f.tx(buf); err != nil {
		return
	}

	f.id = [3]byte(buf[1:])
	if params, ok := knownFlash[f.id]; ok {
		f.pr = &params
		name = params.name
	}
	return f.id, name, err
}

// Info identifies the chip if needed and returns its geometry. Unknown
// IDs report the W25Q128 geometry.
func (f *Flash) Info() (Info, error) {
	if f.pr == nil {
		if _, _, err := f.ReadID(); err != nil {
			return Info{}, err
		}
	}
	info := Info{
		JEDECID:    f.id,
		TotalSize:  16 << 20,
		PageSize:   pageSize,
		SectorSize: sectorSize,
	}
	if f.pr != nil {
		info.Name = f.pr.name
		info.TotalSize = f.pr.size
	}
	return info, nil
}

func (f *Flash) totalSize() int {
	if f.pr != nil {
		return int(f.pr.size)
	}
	return 16 << 20
}

// Read performs a read operation, splitting it into multiple transactions
// if needed to stay within the maximum transaction size.
func (f *Flash) Read(addr, n int) ([]byte, error) {
	const maxTx = 65536

	cmd := byte(flashCmdRead)
	cmdBytes := 4 // opcode + 24-bit address
	if f.fastRead {
		cmd = flashCmdFastRead
		cmdBytes = 5 // one dummy byte after the address
	}
	maxData := maxTx - cmdBytes

	out := make([]byte, n)
	off := 0
	for remaining := n; remaining > 0; {
		chunk := min(remaining, maxData)
		buf := make([]byte, cmdBytes+chunk)
		buf[0] = cmd
		buf[1] = byte(addr >> 16)
		buf[2] = byte(addr >> 8)
		buf[3] = byte(addr)
		// buf[4:cmdBytes] dummy bytes

		if err := f.tx(buf); err != nil {
			return nil, err
		}

		copy(out[off:], buf[cmdBytes:])

		addr += chunk
		off += chunk
		remaining -= chunk
	}
	return out, nil
}

// writeEnable sets WEL and confirms it latched.
func (f *Flash) writeEnable() error {
	buf := []byte{flashCmdWriteEnable}
	if err := f.tx(buf); err != nil {
		return err
	}
	sr, err := f.ReadStatusRegister()
	if err != nil {
		return err
	}
	if !sr.WriteEnabled() {
		return ErrWriteEnable
	}
	return nil
}

// pageProgram programs up to 256 bytes that must not cross a page
// boundary.
func (f *Flash) pageProgram(addr int, data []byte) error {
	const max24 = 1<<24 - 1 // 0xFFFFFF
	if addr < 0 || addr > max24 {
		return fmt.Errorf("address 0x%X out of 24-bit range", addr)
	}
	if len(data) > pageSize {
		return fmt.Errorf("data must not exceed %d bytes", pageSize)
	}
	if end := addr%pageSize + len(data); end > pageSize {
		return fmt.Errorf("write 0x%X+%d crosses page boundary", addr, len(data))
	}

	if err := f.writeEnable(); err != nil {
		return err
	}

	buf := make([]byte, 4+len(data))
	buf[0] = flashCmdPageProgram
	buf[1] = byte(addr >> 16)
	buf[2] = byte(addr >> 8)
	buf[3] = byte(addr)
	copy(buf[4:], data)

	if err := f.tx(buf); err != nil {
		return err
	}
	return f.BusyWait(100*time.Microsecond, f.tPP())
}

// Write programs data starting at addr, splitting at page boundaries so
// that no single Page-Program transaction wraps within a page.
func (f *Flash) Write(addr int, data []byte) error {
	for len(data) > 0 {
		chunk := min(len(data), pageSize-addr%pageSize)
		if err := f.pageProgram(addr, data[:chunk]); err != nil {
			return err
		}
		addr += chunk
		data = data[chunk:]
	}
	return nil
}

func (f *Flash) eraseAt(cmd byte, addr int, interval, timeout time.Duration) error {
	if err := f.writeEnable(); err != nil {
		return err
	}

	buf := make([]byte, 4)
	buf[0] = cmd
	buf[1] = byte(addr >> 16)
	buf[2] = byte(addr >> 8)
	buf[3] = byte(addr)

	if err := f.tx(buf); err != nil {
		return err
	}
	return f.BusyWait(interval, timeout)
}

func (f *Flash) Erase4KB(addr int) error {
	return f.eraseAt(flashCmdErase4KB, addr, 10*time.Millisecond, f.tErase4KB())
}

func (f *Flash) Erase32KB(addr int) error {
	return f.eraseAt(flashCmdErase32KB, addr, 50*time.Millisecond, f.tErase32KB())
}

func (f *Flash) Erase64KB(addr int) error {
	return f.eraseAt(flashCmdErase64KB, addr, 100*time.Millisecond, f.tErase64KB())
}

// EraseChip bulk erases the entire chip.
func (f *Flash) EraseChip() error {
	if err := f.writeEnable(); err != nil {
		return err
	}

	buf := []byte{flashCmdEraseChip}
	if err := f.tx(buf); err != nil {
		return err
	}
	return f.BusyWait(time.Second, f.tEraseChip())
}

// EraseRange erases every sector overlapping [addr, addr+size). addr is
// aligned down and the end aligned up to the 4KB sector size; the largest
// aligned erase opcode is issued at each step. A range covering the whole
// part takes the chip-erase path.
func (f *Flash) EraseRange(addr, size int) error {
	if size <= 0 {
		return nil
	}

	total := f.totalSize()
	cur := addr &^ (sectorSize - 1)
	end := (addr + size + sectorSize - 1) &^ (sectorSize - 1)
	if end > total {
		end = total
	}

	if cur == 0 && end == total {
		return f.EraseChip()
	}

	for cur < end {
		switch n := end - cur; {
		case n >= block64 && cur%block64 == 0:
			if err := f.Erase64KB(cur); err != nil {
				return err
			}
			cur += block64
		case n >= block32 && cur%block32 == 0:
			if err := f.Erase32KB(cur); err != nil {
				return err
			}
			cur += block32
		default:
			if err := f.Erase4KB(cur); err != nil {
				return err
			}
			cur += sectorSize
		}
	}
	return nil
}

// BusyWait polls the status register until WIP clears, with the given
// interval, or fails with ErrBusyTimeout once the datasheet bound expires.
func (f *Flash) BusyWait(interval, timeout time.Duration) error {
	// Fast path
	sr, err := f.ReadStatusRegister()
	if err != nil {
		return err
	}
	if !sr.Busy() {
		return nil
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		sr, err := f.ReadStatusRegister()
		if err != nil {
			return err
		}
		if !sr.Busy() {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrBusyTimeout
		}
	}
	return nil
}

// StatusRegister represents the status register of the flash chip.
//
//	Bits| [W25Q128|7.1 Status Registers]
//	----+-------------------------------
//	7   | SRP: Status Register Protect
//	6   | SEC: Sector protect
//	5   | TB: Top/Bottom protect
//	4:2 | BP2-0: Block Protect bit 2-0
//	1   | WEL: Write Enable Latch
//	0   | BUSY: Erase/Write in progress
type StatusRegister byte

func (sr StatusRegister) StatusRegisterProtect() bool { return sr&(1<<7) != 0 }
func (sr StatusRegister) SectorProtect() bool         { return sr&(1<<6) != 0 }
func (sr StatusRegister) TopBottom() bool             { return sr&(1<<5) != 0 }
func (sr StatusRegister) BlockProtect2() bool         { return sr&(1<<4) != 0 }
func (sr StatusRegister) BlockProtect1() bool         { return sr&(1<<3) != 0 }
func (sr StatusRegister) BlockProtect0() bool         { return sr&(1<<2) != 0 }
func (sr StatusRegister) WriteEnabled() bool          { return sr&(1<<1) != 0 }
func (sr StatusRegister) Busy() bool                  { return sr&(1<<0) != 0 }

func (sr StatusRegister) String() string {
	b := fmt.Sprintf("%08b", byte(sr))
	s := []string{}
	if sr.StatusRegisterProtect() {
		s = append(s, "SRP")
	}
	if sr.SectorProtect() {
		s = append(s, "SEC")
	}
	if sr.TopBottom() {
		s = append(s, "TB")
	}
	if sr.BlockProtect2() {
		s = append(s, "BP2")
	}
	if sr.BlockProtect1() {
		s = append(s, "BP1")
	}
	if sr.BlockProtect0() {
		s = append(s, "BP0")
	}
	if sr.WriteEnabled() {
		s = append(s, "WEL")
	}
	if sr.Busy() {
		s = append(s, "BUSY")
	}
	if len(s) == 0 {
		return b
	}
	return b + " " + strings.Join(s, ",")
}

func (f *Flash) ReadStatusRegister() (StatusRegister, error) {
	buf := []byte{flashCmdReadStatusRegister, 0}
	if err := f.tx(buf); err != nil {
		return 0, err
	}
	return StatusRegister(buf[1]), nil
}
