// Package emu provides functional Alpha AXP emulation.
package emu

// FPCR bit assignments. Status bits are sticky; setting any status
// bit also sets SUM. The disable bits gate whether a detected
// condition takes an arithmetic trap.
const (
	FPCRSum  uint64 = 1 << 63
	FPCRIned uint64 = 1 << 62
	FPCRUnfd uint64 = 1 << 61

	// Dynamic rounding mode field, bits 59:58.
	FPCRDynShift        = 58
	FPCRDynMask  uint64 = 0x3 << FPCRDynShift

	FPCRIov  uint64 = 1 << 57
	FPCRIne  uint64 = 1 << 56
	FPCRUnf  uint64 = 1 << 55
	FPCROvf  uint64 = 1 << 54
	FPCRDze  uint64 = 1 << 53
	FPCRInv  uint64 = 1 << 52
	FPCROvfd uint64 = 1 << 51
	FPCRDzed uint64 = 1 << 50
	FPCRInvd uint64 = 1 << 49

	// FPCRStatusMask covers every sticky status bit.
	FPCRStatusMask = FPCRIov | FPCRIne | FPCRUnf | FPCROvf | FPCRDze | FPCRInv
)

// Dynamic rounding field encodings (FPCR bits 59:58).
const (
	FPCRDynChopped  uint64 = 0
	FPCRDynMinusInf uint64 = 1
	FPCRDynNormal   uint64 = 2
	FPCRDynPlusInf  uint64 = 3
)

// Reservation is the per-CPU load-locked/store-conditional record.
// The base is aligned to an 8-byte boundary; the reservation is valid
// until a conflicting write, a successful store-conditional, an
// explicit clear, or an exception.
type Reservation struct {
	Addr  uint64
	Size  int
	Valid bool
}

// RegFile is the Alpha register file: 32 integer registers with R31
// hardwired to zero, 32 floating-point registers with F31 hardwired
// to zero, the FPCR, and the LL/SC reservation record.
type RegFile struct {
	R [32]uint64
	F [32]uint64

	fpcr        uint64
	Reservation Reservation

	// OnFPCRUpdate, when set, observes every FPCR status change.
	OnFPCRUpdate func(fpcr uint64)
}

// ReadReg reads an integer register. R31 always reads as zero.
func (r *RegFile) ReadReg(reg uint8) uint64 {
	if reg >= 31 {
		return 0
	}
	return r.R[reg]
}

// WriteReg writes an integer register. Writes to R31 are silently
// discarded.
func (r *RegFile) WriteReg(reg uint8, value uint64) {
	if reg >= 31 {
		return
	}
	r.R[reg] = value
}

// ReadFloat reads a floating-point register. F31 always reads as
// zero.
func (r *RegFile) ReadFloat(reg uint8) uint64 {
	if reg >= 31 {
		return 0
	}
	return r.F[reg]
}

// WriteFloat writes a floating-point register. Writes to F31 are
// silently discarded.
func (r *RegFile) WriteFloat(reg uint8, value uint64) {
	if reg >= 31 {
		return
	}
	r.F[reg] = value
}

// FPCR returns the raw floating-point control register.
func (r *RegFile) FPCR() uint64 {
	return r.fpcr
}

// SetFPCR replaces the raw FPCR (MT_FPCR).
func (r *RegFile) SetFPCR(value uint64) {
	r.fpcr = value
	if r.OnFPCRUpdate != nil {
		r.OnFPCRUpdate(r.fpcr)
	}
}

// SetFPCRStatus sets one or more FPCR status bits together with SUM
// and notifies the observer.
func (r *RegFile) SetFPCRStatus(bits uint64) {
	r.fpcr |= (bits & FPCRStatusMask) | FPCRSum
	if r.OnFPCRUpdate != nil {
		r.OnFPCRUpdate(r.fpcr)
	}
}

// ClearFPCRStatus clears individual status bits. SUM is sticky: it
// stays set until all status bits are cleared explicitly through
// ClearFPCRSummary or a full SetFPCR.
func (r *RegFile) ClearFPCRStatus(bits uint64) {
	r.fpcr &^= bits & FPCRStatusMask
	if r.OnFPCRUpdate != nil {
		r.OnFPCRUpdate(r.fpcr)
	}
}

// ClearFPCRSummary clears SUM and every status bit.
func (r *RegFile) ClearFPCRSummary() {
	r.fpcr &^= FPCRSum | FPCRStatusMask
	if r.OnFPCRUpdate != nil {
		r.OnFPCRUpdate(r.fpcr)
	}
}

// TrapEnabled reports whether the trap for the given status bit is
// enabled. Alpha FPCR carries disable bits, so a condition traps
// when its disable bit is clear.
func (r *RegFile) TrapEnabled(status uint64) bool {
	switch status {
	case FPCRInv:
		return r.fpcr&FPCRInvd == 0
	case FPCRDze:
		return r.fpcr&FPCRDzed == 0
	case FPCROvf:
		return r.fpcr&FPCROvfd == 0
	case FPCRUnf:
		return r.fpcr&FPCRUnfd == 0
	case FPCRIne:
		return r.fpcr&FPCRIned == 0
	case FPCRIov:
		return r.fpcr&FPCRIned == 0
	}
	return false
}

// DynamicRounding returns the FPCR dynamic rounding field.
func (r *RegFile) DynamicRounding() uint64 {
	return (r.fpcr & FPCRDynMask) >> FPCRDynShift
}

// SetReservation installs an LL/SC reservation over the aligned
// physical range [addr, addr+size).
func (r *RegFile) SetReservation(addr uint64, size int) {
	r.Reservation = Reservation{Addr: addr, Size: size, Valid: true}
}

// ClearReservation drops any pending reservation.
func (r *RegFile) ClearReservation() {
	r.Reservation = Reservation{}
}

// CheckReservation reports whether a valid reservation covers the
// aligned address.
func (r *RegFile) CheckReservation(addr uint64) bool {
	return r.Reservation.Valid && r.Reservation.Addr == addr
}

// Clear resets all registers, the FPCR, and the reservation.
func (r *RegFile) Clear() {
	r.R = [32]uint64{}
	r.F = [32]uint64{}
	r.fpcr = 0
	r.Reservation = Reservation{}
}
