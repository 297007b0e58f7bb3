package insts

import "fmt"

var opNames = map[Op]string{
	OpCALLPAL: "CALL_PAL", OpHWMFPR: "HW_MFPR", OpHWMTPR: "HW_MTPR",
	OpADDL: "ADDL", OpADDQ: "ADDQ", OpSUBL: "SUBL", OpSUBQ: "SUBQ",
	OpADDLV: "ADDL/V", OpADDQV: "ADDQ/V", OpSUBLV: "SUBL/V", OpSUBQV: "SUBQ/V",
	OpS4ADDL: "S4ADDL", OpS8ADDL: "S8ADDL", OpS4SUBL: "S4SUBL", OpS8SUBL: "S8SUBL",
	OpS4ADDQ: "S4ADDQ", OpS8ADDQ: "S8ADDQ", OpS4SUBQ: "S4SUBQ", OpS8SUBQ: "S8SUBQ",
	OpCMPEQ: "CMPEQ", OpCMPLT: "CMPLT", OpCMPLE: "CMPLE",
	OpCMPULT: "CMPULT", OpCMPULE: "CMPULE", OpCMPBGE: "CMPBGE",
	OpAND: "AND", OpBIC: "BIC", OpBIS: "BIS", OpORNOT: "ORNOT",
	OpXOR: "XOR", OpEQV: "EQV",
	OpCMOVEQ: "CMOVEQ", OpCMOVNE: "CMOVNE", OpCMOVLT: "CMOVLT",
	OpCMOVGE: "CMOVGE", OpCMOVLE: "CMOVLE", OpCMOVGT: "CMOVGT",
	OpCMOVLBS: "CMOVLBS", OpCMOVLBC: "CMOVLBC",
	OpSLL: "SLL", OpSRL: "SRL", OpSRA: "SRA",
	OpEXTBL: "EXTBL", OpEXTWL: "EXTWL", OpEXTLL: "EXTLL", OpEXTQL: "EXTQL",
	OpEXTWH: "EXTWH", OpEXTLH: "EXTLH", OpEXTQH: "EXTQH",
	OpINSBL: "INSBL", OpINSWL: "INSWL", OpINSLL: "INSLL", OpINSQL: "INSQL",
	OpINSWH: "INSWH", OpINSLH: "INSLH", OpINSQH: "INSQH",
	OpMSKBL: "MSKBL", OpMSKWL: "MSKWL", OpMSKLL: "MSKLL", OpMSKQL: "MSKQL",
	OpMSKWH: "MSKWH", OpMSKLH: "MSKLH", OpMSKQH: "MSKQH",
	OpZAP: "ZAP", OpZAPNOT: "ZAPNOT",
	OpMULL: "MULL", OpMULQ: "MULQ", OpUMULH: "UMULH",
	OpMULLV: "MULL/V", OpMULQV: "MULQ/V",
	OpSEXTB: "SEXTB", OpSEXTW: "SEXTW",
	OpCTPOP: "CTPOP", OpCTLZ: "CTLZ", OpCTTZ: "CTTZ",
	OpFADD: "FADD", OpFSUB: "FSUB", OpFMUL: "FMUL", OpFDIV: "FDIV",
	OpFSQRT: "FSQRT", OpFCMPUN: "FCMPUN", OpFCMPEQ: "FCMPEQ",
	OpFCMPLT: "FCMPLT", OpFCMPLE: "FCMPLE",
	OpFCVTS: "FCVTS", OpFCVTD: "FCVTD", OpFCVTT: "FCVTT", OpFCVTQ: "FCVTQ",
	OpCPYS: "CPYS", OpCPYSN: "CPYSN", OpCPYSE: "CPYSE",
	OpMTFPCR: "MT_FPCR", OpMFFPCR: "MF_FPCR",
	OpFCMOVEQ: "FCMOVEQ", OpFCMOVNE: "FCMOVNE", OpFCMOVLT: "FCMOVLT",
	OpFCMOVGE: "FCMOVGE", OpFCMOVLE: "FCMOVLE", OpFCMOVGT: "FCMOVGT",
	OpCVTLQ: "CVTLQ", OpCVTQL: "CVTQL",
	OpLDA: "LDA", OpLDAH: "LDAH", OpLDBU: "LDBU", OpLDWU: "LDWU",
	OpLDL: "LDL", OpLDQ: "LDQ", OpLDQU: "LDQ_U",
	OpLDLL: "LDL_L", OpLDQL: "LDQ_L",
	OpSTB: "STB", OpSTW: "STW", OpSTL: "STL", OpSTQ: "STQ",
	OpSTQU: "STQ_U", OpSTLC: "STL_C", OpSTQC: "STQ_C",
	OpLDF: "LDF", OpLDG: "LDG", OpLDS: "LDS", OpLDT: "LDT",
	OpSTF: "STF", OpSTG: "STG", OpSTS: "STS", OpSTT: "STT",
	OpBR: "BR", OpBSR: "BSR", OpBEQ: "BEQ", OpBNE: "BNE",
	OpBLT: "BLT", OpBLE: "BLE", OpBGT: "BGT", OpBGE: "BGE",
	OpBLBC: "BLBC", OpBLBS: "BLBS",
	OpFBEQ: "FBEQ", OpFBNE: "FBNE", OpFBLT: "FBLT",
	OpFBLE: "FBLE", OpFBGT: "FBGT", OpFBGE: "FBGE",
	OpJMP: "JMP", OpJSR: "JSR", OpRET: "RET", OpJSRCoroutine: "JSR_COROUTINE",
	OpTRAPB: "TRAPB", OpEXCB: "EXCB", OpMB: "MB", OpWMB: "WMB",
	OpFETCH: "FETCH", OpFETCHM: "FETCH_M", OpRPCC: "RPCC",
	OpRC: "RC", OpRS: "RS",
}

// Mnemonic returns the assembler mnemonic for the operation.
func (o Op) Mnemonic() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "???"
}

// String renders the instruction in assembler syntax for the monitor.
func (i *Instruction) String() string {
	reg := "R"
	if i.IsFloat() {
		reg = "F"
	}

	switch i.Format {
	case FormatMemory:
		return fmt.Sprintf("%s %s%d, %d(R%d)", i.Op.Mnemonic(), reg, i.Ra, i.Disp, i.Rb)
	case FormatMemoryFunc:
		return i.Op.Mnemonic()
	case FormatJump:
		return fmt.Sprintf("%s R%d, (R%d)", i.Op.Mnemonic(), i.Ra, i.Rb)
	case FormatOperate:
		if i.IsLiteral {
			return fmt.Sprintf("%s R%d, #%d, R%d", i.Op.Mnemonic(), i.Ra, i.Literal, i.Rc)
		}
		return fmt.Sprintf("%s R%d, R%d, R%d", i.Op.Mnemonic(), i.Ra, i.Rb, i.Rc)
	case FormatFP:
		return fmt.Sprintf("%s F%d, F%d, F%d", i.Op.Mnemonic(), i.Ra, i.Rb, i.Rc)
	case FormatBranch:
		return fmt.Sprintf("%s %s%d, %+d", i.Op.Mnemonic(), reg, i.Ra, i.BranchDisp)
	case FormatPAL:
		return fmt.Sprintf("CALL_PAL 0x%X", i.PALFunc)
	}
	return fmt.Sprintf(".word 0x%08X", i.Raw)
}
