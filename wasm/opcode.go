package wasm

import "fmt"

// UnsupportedError reports a construct outside the feature set the
// instrumentation passes can rewrite safely.
type UnsupportedError struct {
	What   string
	Offset int
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported %s at offset %d", e.What, e.Offset)
}

// Instr locates one instruction inside a function body. Sub is the
// sub-opcode for 0xFC and 0xFD prefixed instructions.
type Instr struct {
	Op    byte
	Sub   uint32
	Start int
	End   int
}

// ReadInstr decodes the opcode at the reader's position and skips its
// immediates.
func ReadInstr(r *Reader) (Instr, error) {
	start := r.Offset()
	op, err := r.Byte()
	if err != nil {
		return Instr{}, err
	}
	in := Instr{Op: op, Start: start}
	switch {
	case op == OpPrefixMisc:
		in.Sub, err = r.U32()
		if err == nil {
			err = skipMisc(r, in.Sub)
		}
	case op == OpPrefixSIMD:
		in.Sub, err = r.U32()
		if err == nil {
			err = skipSIMD(r, in.Sub)
		}
	default:
		err = skipImmediates(r, op)
	}
	if err != nil {
		return Instr{}, err
	}
	in.End = r.Offset()
	return in, nil
}

func skipImmediates(r *Reader, op byte) error {
	switch op {
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect:
		return nil

	case OpBlock, OpLoop, OpIf:
		_, err := r.S33()
		return err

	case OpBr, OpBrIf, OpCall, OpReturnCall,
		OpLocalGet, OpLocalSet, OpLocalTee, OpGlobalGet, OpGlobalSet,
		OpTableGet, OpTableSet, OpRefFunc, OpMemorySize, OpMemoryGrow:
		_, err := r.U32()
		return err

	case OpBrTable:
		n, err := r.U32()
		if err != nil {
			return err
		}
		for i := uint64(0); i <= uint64(n); i++ {
			if _, err := r.U32(); err != nil {
				return err
			}
		}
		return nil

	case OpCallIndirect, OpReturnCallIndirect:
		if _, err := r.U32(); err != nil {
			return err
		}
		_, err := r.U32()
		return err

	case OpSelectType:
		n, err := r.U32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			b, err := r.Byte()
			if err != nil {
				return err
			}
			if !ValType(b).simple() {
				return &UnsupportedError{What: fmt.Sprintf("select type 0x%02x", b), Offset: r.Offset() - 1}
			}
		}
		return nil

	case OpI32Const:
		_, err := r.S32()
		return err
	case OpI64Const:
		_, err := r.S64()
		return err
	case OpF32Const:
		return r.Skip(4)
	case OpF64Const:
		return r.Skip(8)

	case OpRefNull:
		b, err := r.Byte()
		if err != nil {
			return err
		}
		if !ValType(b).simple() {
			return &UnsupportedError{What: fmt.Sprintf("heap type 0x%02x", b), Offset: r.Offset() - 1}
		}
		return nil
	case OpRefIsNull:
		return nil

	case OpTry, OpCatch, OpThrow, OpRethrow, OpThrowRef, OpDelegate, OpCatchAll, OpTryTable:
		return &UnsupportedError{What: fmt.Sprintf("exception handling opcode 0x%02x", op), Offset: r.Offset() - 1}
	case OpCallRef, OpReturnCallRef, OpRefAsNonNull, OpRefEq, OpBrOnNull, OpBrOnNonNull:
		return &UnsupportedError{What: fmt.Sprintf("typed reference opcode 0x%02x", op), Offset: r.Offset() - 1}
	case OpPrefixGC:
		return &UnsupportedError{What: "gc instruction", Offset: r.Offset() - 1}
	case OpPrefixAtomic:
		return &UnsupportedError{What: "atomic instruction", Offset: r.Offset() - 1}
	}

	switch {
	case op >= OpI32Load && op <= OpI64Store32:
		return skipMemArg(r)
	case op >= OpI32Eqz && op <= 0xC4:
		// numeric instructions, sign extension included
		return nil
	}
	return fmt.Errorf("unknown opcode 0x%02x at offset %d", op, r.Offset()-1)
}

func skipMemArg(r *Reader) error {
	align, err := r.U32()
	if err != nil {
		return err
	}
	if align&memArgMultiMemBit != 0 {
		if _, err := r.U32(); err != nil {
			return err
		}
	}
	_, err = r.U64()
	return err
}

func skipMisc(r *Reader, sub uint32) error {
	switch {
	case sub <= 7:
		return nil
	case sub == MiscMemoryInit, sub == MiscMemoryCopy, sub == MiscTableInit, sub == MiscTableCopy:
		if _, err := r.U32(); err != nil {
			return err
		}
		_, err := r.U32()
		return err
	case sub == MiscDataDrop, sub == MiscMemoryFill, sub == MiscElemDrop,
		sub >= MiscTableGrow && sub <= MiscTableFill:
		_, err := r.U32()
		return err
	}
	return fmt.Errorf("unknown 0xfc sub-opcode %d at offset %d", sub, r.Offset())
}

func skipSIMD(r *Reader, sub uint32) error {
	switch {
	case sub <= SimdV128Store:
		return skipMemArg(r)
	case sub == SimdV128Const, sub == SimdI8x16Shuffle:
		return r.Skip(16)
	case sub >= SimdI8x16ExtractLaneS && sub <= SimdF64x2ReplaceLane:
		return r.Skip(1)
	case sub >= SimdV128Load8Lane && sub <= SimdV128Store64Lane:
		if err := skipMemArg(r); err != nil {
			return err
		}
		return r.Skip(1)
	case sub == SimdV128Load32Zero, sub == SimdV128Load64Zero:
		return skipMemArg(r)
	}
	return nil
}
