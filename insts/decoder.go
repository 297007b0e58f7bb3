package insts

// Field extraction per the Alpha encodings: the opcode is bits 31:26
// in every format; remaining fields depend on the format.

// Decoder decodes Alpha machine words into instructions.
type Decoder struct {
	intOps    map[uint8]map[uint16]Op
	fltlOps   map[uint16]Op
	miscOps   map[uint16]Op
	memOps    map[uint8]Op
	branchOps map[uint8]Op
}

// NewDecoder creates a new Alpha instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{
		intOps: map[uint8]map[uint16]Op{
			0x10: {
				0x00: OpADDL, 0x02: OpS4ADDL, 0x09: OpSUBL, 0x0B: OpS4SUBL,
				0x0F: OpCMPBGE, 0x12: OpS8ADDL, 0x1B: OpS8SUBL, 0x1D: OpCMPULT,
				0x20: OpADDQ, 0x22: OpS4ADDQ, 0x29: OpSUBQ, 0x2B: OpS4SUBQ,
				0x2D: OpCMPEQ, 0x32: OpS8ADDQ, 0x3B: OpS8SUBQ, 0x3D: OpCMPULE,
				0x40: OpADDLV, 0x49: OpSUBLV, 0x4D: OpCMPLT,
				0x60: OpADDQV, 0x69: OpSUBQV, 0x6D: OpCMPLE,
			},
			0x11: {
				0x00: OpAND, 0x08: OpBIC, 0x14: OpCMOVLBS, 0x16: OpCMOVLBC,
				0x20: OpBIS, 0x24: OpCMOVEQ, 0x26: OpCMOVNE, 0x28: OpORNOT,
				0x40: OpXOR, 0x44: OpCMOVLT, 0x46: OpCMOVGE, 0x48: OpEQV,
				0x64: OpCMOVLE, 0x66: OpCMOVGT,
			},
			0x12: {
				0x02: OpMSKBL, 0x06: OpEXTBL, 0x0B: OpINSBL,
				0x12: OpMSKWL, 0x16: OpEXTWL, 0x1B: OpINSWL,
				0x22: OpMSKLL, 0x26: OpEXTLL, 0x2B: OpINSLL,
				0x30: OpZAP, 0x31: OpZAPNOT, 0x32: OpMSKQL,
				0x34: OpSRL, 0x36: OpEXTQL, 0x39: OpSLL, 0x3B: OpINSQL,
				0x3C: OpSRA,
				0x52: OpMSKWH, 0x57: OpINSWH, 0x5A: OpEXTWH,
				0x62: OpMSKLH, 0x67: OpINSLH, 0x6A: OpEXTLH,
				0x72: OpMSKQH, 0x77: OpINSQH, 0x7A: OpEXTQH,
			},
			0x13: {
				0x00: OpMULL, 0x20: OpMULQ, 0x30: OpUMULH,
				0x40: OpMULLV, 0x60: OpMULQV,
			},
			0x1C: {
				0x00: OpSEXTB, 0x01: OpSEXTW,
				0x30: OpCTPOP, 0x32: OpCTLZ, 0x33: OpCTTZ,
			},
		},
		fltlOps: map[uint16]Op{
			0x010: OpCVTLQ, 0x020: OpCPYS, 0x021: OpCPYSN, 0x022: OpCPYSE,
			0x024: OpMTFPCR, 0x025: OpMFFPCR,
			0x02A: OpFCMOVEQ, 0x02B: OpFCMOVNE, 0x02C: OpFCMOVLT,
			0x02D: OpFCMOVGE, 0x02E: OpFCMOVLE, 0x02F: OpFCMOVGT,
			0x030: OpCVTQL,
		},
		miscOps: map[uint16]Op{
			0x0000: OpTRAPB, 0x0400: OpEXCB, 0x4000: OpMB, 0x4400: OpWMB,
			0x8000: OpFETCH, 0xA000: OpFETCHM, 0xC000: OpRPCC,
			0xE000: OpRC, 0xF000: OpRS,
		},
		memOps: map[uint8]Op{
			0x08: OpLDA, 0x09: OpLDAH, 0x0A: OpLDBU, 0x0B: OpLDQU,
			0x0C: OpLDWU, 0x0D: OpSTW, 0x0E: OpSTB, 0x0F: OpSTQU,
			0x20: OpLDF, 0x21: OpLDG, 0x22: OpLDS, 0x23: OpLDT,
			0x24: OpSTF, 0x25: OpSTG, 0x26: OpSTS, 0x27: OpSTT,
			0x28: OpLDL, 0x29: OpLDQ, 0x2A: OpLDLL, 0x2B: OpLDQL,
			0x2C: OpSTL, 0x2D: OpSTQ, 0x2E: OpSTLC, 0x2F: OpSTQC,
		},
		branchOps: map[uint8]Op{
			0x30: OpBR, 0x31: OpFBEQ, 0x32: OpFBLT, 0x33: OpFBLE,
			0x34: OpBSR, 0x35: OpFBNE, 0x36: OpFBGE, 0x37: OpFBGT,
			0x38: OpBLBC, 0x39: OpBEQ, 0x3A: OpBLT, 0x3B: OpBLE,
			0x3C: OpBLBS, 0x3D: OpBNE, 0x3E: OpBGE, 0x3F: OpBGT,
		},
	}
}

// Decode decodes a 32-bit Alpha instruction word. Unrecognized
// (opcode, function) combinations produce OpUnknown.
func (d *Decoder) Decode(word uint32) *Instruction {
	inst := &Instruction{
		Raw:    word,
		Opcode: uint8(word >> 26),
		Op:     OpUnknown,
		Format: FormatUnknown,
	}

	switch inst.Opcode {
	case 0x00:
		d.decodePAL(word, inst)
	case 0x10, 0x11, 0x12, 0x13, 0x1C:
		d.decodeOperate(word, inst)
	case 0x14, 0x15, 0x16:
		d.decodeFPArith(word, inst)
	case 0x17:
		d.decodeFPLogical(word, inst)
	case 0x18:
		d.decodeMisc(word, inst)
	case 0x19, 0x1D:
		d.decodeHWMove(word, inst)
	case 0x1A:
		d.decodeJump(word, inst)
	default:
		if op, ok := d.memOps[inst.Opcode]; ok {
			d.decodeMemory(word, inst, op)
		} else if op, ok := d.branchOps[inst.Opcode]; ok {
			d.decodeBranch(word, inst, op)
		}
	}

	return inst
}

// decodePAL decodes CALL_PAL: opcode 0x00 with a 26-bit function.
func (d *Decoder) decodePAL(word uint32, inst *Instruction) {
	inst.Format = FormatPAL
	inst.Op = OpCALLPAL
	inst.PALFunc = word & 0x3FFFFFF
}

// decodeOperate decodes the integer operate format:
// Ra | Rb or literal | function (bits 11:5) | Rc.
func (d *Decoder) decodeOperate(word uint32, inst *Instruction) {
	fn := uint16((word >> 5) & 0x7F)
	op, ok := d.intOps[inst.Opcode][fn]
	if !ok {
		return
	}

	inst.Format = FormatOperate
	inst.Op = op
	inst.Function = fn
	inst.Ra = uint8((word >> 21) & 0x1F)
	inst.Rc = uint8(word & 0x1F)

	if word&(1<<12) != 0 {
		inst.IsLiteral = true
		inst.Literal = uint8((word >> 13) & 0xFF)
	} else {
		inst.Rb = uint8((word >> 16) & 0x1F)
	}
}

// decodeFPArith decodes floating arithmetic (opcodes 0x14, 0x15,
// 0x16). The 11-bit function field breaks down as:
//
//	fn[3:0]  operation
//	fn[5:4]  source format
//	fn[7:6]  rounding mode
//	fn[10:8] trap qualifiers
func (d *Decoder) decodeFPArith(word uint32, inst *Instruction) {
	fn := uint16((word >> 5) & 0x7FF)

	var op Op
	switch fn & 0xF {
	case 0x0:
		op = OpFADD
	case 0x1:
		op = OpFSUB
	case 0x2:
		op = OpFMUL
	case 0x3:
		op = OpFDIV
	case 0x4:
		op = OpFCMPUN
	case 0x5:
		op = OpFCMPEQ
	case 0x6:
		op = OpFCMPLT
	case 0x7:
		op = OpFCMPLE
	case 0xA, 0xB:
		// Square root group: nibble 0xA for the VAX formats,
		// 0xB for the IEEE formats.
		op = OpFSQRT
	case 0xC:
		op = OpFCVTS
	case 0xD:
		op = OpFCVTD
	case 0xE:
		op = OpFCVTT
	case 0xF:
		op = OpFCVTQ
	default:
		return
	}

	// Opcode 0x14 carries only the square root group.
	if inst.Opcode == 0x14 && op != OpFSQRT {
		return
	}
	if inst.Opcode != 0x14 && op == OpFSQRT {
		return
	}

	inst.Format = FormatFP
	inst.Op = op
	inst.Function = fn
	inst.Ra = uint8((word >> 21) & 0x1F)
	inst.Rb = uint8((word >> 16) & 0x1F)
	inst.Rc = uint8(word & 0x1F)
	inst.FPSrc = FPFormat((fn >> 4) & 0x3)
	inst.Round = RoundMode((fn >> 6) & 0x3)
	inst.TrapQual = uint8((fn >> 8) & 0x7)
	inst.VAX = inst.Opcode == 0x15 ||
		(inst.Opcode == 0x14 && fn&0xF == 0xA)
}

// decodeFPLogical decodes opcode 0x17: sign-copy, FCMOV, FPCR moves,
// and the longword/quadword integer converts. The full 11-bit
// function selects the operation.
func (d *Decoder) decodeFPLogical(word uint32, inst *Instruction) {
	fn := uint16((word >> 5) & 0x7FF)
	op, ok := d.fltlOps[fn]
	if !ok {
		return
	}

	inst.Format = FormatFP
	inst.Op = op
	inst.Function = fn
	inst.Ra = uint8((word >> 21) & 0x1F)
	inst.Rb = uint8((word >> 16) & 0x1F)
	inst.Rc = uint8(word & 0x1F)
}

// decodeMisc decodes opcode 0x18: barriers and cycle counter access.
// The function code occupies the displacement field.
func (d *Decoder) decodeMisc(word uint32, inst *Instruction) {
	fn := uint16(word & 0xFFFF)
	op, ok := d.miscOps[fn]
	if !ok {
		return
	}

	inst.Format = FormatMemoryFunc
	inst.Op = op
	inst.Function = fn
	inst.Ra = uint8((word >> 21) & 0x1F)
	inst.Rb = uint8((word >> 16) & 0x1F)
}

// decodeHWMove decodes the PAL-mode privileged register moves
// HW_MFPR (0x19) and HW_MTPR (0x1D). The IPR index occupies the
// displacement field.
func (d *Decoder) decodeHWMove(word uint32, inst *Instruction) {
	inst.Format = FormatMemory
	inst.Ra = uint8((word >> 21) & 0x1F)
	inst.Rb = uint8((word >> 16) & 0x1F)
	inst.Disp = int16(word & 0xFFFF)

	if inst.Opcode == 0x19 {
		inst.Op = OpHWMFPR
	} else {
		inst.Op = OpHWMTPR
	}
}

// decodeJump decodes opcode 0x1A: JMP, JSR, RET, JSR_COROUTINE.
func (d *Decoder) decodeJump(word uint32, inst *Instruction) {
	inst.Format = FormatJump
	inst.Ra = uint8((word >> 21) & 0x1F)
	inst.Rb = uint8((word >> 16) & 0x1F)
	inst.JumpType = uint8((word >> 14) & 0x3)
	inst.JumpHint = uint16(word & 0x3FFF)

	switch inst.JumpType {
	case JumpJMP:
		inst.Op = OpJMP
	case JumpJSR:
		inst.Op = OpJSR
	case JumpRET:
		inst.Op = OpRET
	case JumpCoroutine:
		inst.Op = OpJSRCoroutine
	}
}

// decodeMemory decodes the memory format: Ra | Rb | 16-bit signed
// displacement.
func (d *Decoder) decodeMemory(word uint32, inst *Instruction, op Op) {
	inst.Format = FormatMemory
	inst.Op = op
	inst.Ra = uint8((word >> 21) & 0x1F)
	inst.Rb = uint8((word >> 16) & 0x1F)
	inst.Disp = int16(word & 0xFFFF)
}

// decodeBranch decodes the branch format: Ra | 21-bit signed
// displacement in instructions.
func (d *Decoder) decodeBranch(word uint32, inst *Instruction, op Op) {
	inst.Format = FormatBranch
	inst.Op = op
	inst.Ra = uint8((word >> 21) & 0x1F)

	disp := int32(word & 0x1FFFFF)
	if disp&(1<<20) != 0 {
		disp |= ^int32(0x1FFFFF)
	}
	inst.BranchDisp = disp
}

// BranchTarget computes the architected branch target for a branch
// at pc: pc + 4 + disp*4.
func (i *Instruction) BranchTarget(pc uint64) uint64 {
	return uint64(int64(pc) + 4 + int64(i.BranchDisp)*4)
}
