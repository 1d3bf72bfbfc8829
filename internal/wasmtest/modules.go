package wasmtest

import (
	"github.com/wippyai/wasm-bridge/envelope"
	"github.com/wippyai/wasm-bridge/wasm"
)

const (
	// HeapBase is where the guest bump allocator starts after a reset.
	HeapBase = 1024

	failOffset    = 64
	garbageOffset = 512
)

// FailMessage is the diagnostic returned by the "fail" export.
const FailMessage = "rejected by guest"

var (
	i32 = wasm.ValI32
	i64 = wasm.ValI64
	f32 = wasm.ValF32
	f64 = wasm.ValF64

	bridgeArgs = []wasm.ValType{i32, i32}
	bridgeRet  = []wasm.ValType{i64}

	garbage = []byte("definitely not an envelope")
)

// FailEnvelope is the is-error envelope the "fail" export returns.
func FailEnvelope() []byte {
	env, err := envelope.EncodeFailure(envelope.CodeValidation, FailMessage)
	if err != nil {
		panic(err)
	}
	return env
}

func ref(ptr, n uint32) int64 {
	return int64(uint64(ptr)<<32 | uint64(n))
}

// Guest returns a module honouring the bridge calling convention. It
// exports memory, bridge_alloc, bridge_reset and these functions:
//
//	echo       returns a copy of the request envelope with flags cleared
//	fail       returns an is-error envelope
//	spin       loops forever
//	trap       executes unreachable
//	bad_ref    returns a reference outside memory
//	garbage    returns a reference to bytes that are not an envelope
//	long_ref   returns a reference longer than the envelope it points to
//	grow       allocates a page per call without resetting
func Guest() []byte {
	return guest(New(), false)
}

// GuestWithHost is Guest plus an export "call_host" that forwards its
// request to the imported host function module.name and returns the
// host's response.
func GuestWithHost(module, name string) []byte {
	b := New()
	b.ImportFunc(module, name, bridgeArgs, bridgeRet)
	return guest(b, true)
}

func guest(b *Builder, withHost bool) []byte {
	b.Memory(1, 0)
	cursor := b.GlobalI32(true, HeapBase)

	fail := FailEnvelope()
	b.Data(failOffset, fail)
	b.Data(garbageOffset, garbage)

	alloc := b.Func([]wasm.ValType{i32}, []wasm.ValType{i32}, nil, allocCode(cursor))
	b.Export("bridge_alloc", alloc)

	reset := b.Func(nil, nil, nil, Code().I32(HeapBase).GlobalSet(cursor))
	b.Export("bridge_reset", reset)

	echo := b.Func(bridgeArgs, bridgeRet, []wasm.LocalDecl{{Count: 1, Type: i32}}, Code().
		LocalGet(1).Call(alloc).LocalSet(2).
		LocalGet(2).LocalGet(0).LocalGet(1).MemoryCopy().
		LocalGet(2).I32(0).I32Store8(3).
		PackRef(2, 1))
	b.Export("echo", echo)

	b.Export("fail", b.Func(bridgeArgs, bridgeRet, nil, Code().I64(ref(failOffset, uint32(len(fail))))))
	b.Export("spin", b.Func(bridgeArgs, bridgeRet, nil, Code().Loop().Br(0).End().I64(0)))
	b.Export("trap", b.Func(bridgeArgs, bridgeRet, nil, Code().Op(wasm.OpUnreachable)))
	b.Export("bad_ref", b.Func(bridgeArgs, bridgeRet, nil, Code().I64(ref(0xFFFF0000, 16))))
	b.Export("garbage", b.Func(bridgeArgs, bridgeRet, nil, Code().I64(ref(garbageOffset, uint32(len(garbage))))))
	b.Export("long_ref", b.Func(bridgeArgs, bridgeRet, nil, Code().I64(ref(failOffset, uint32(len(fail)+4)))))

	// grow: allocate 64 KiB and echo, so memory use climbs across calls
	// unless bridge_reset runs in between.
	b.Export("grow", b.Func(bridgeArgs, bridgeRet, []wasm.LocalDecl{{Count: 1, Type: i32}}, Code().
		I32(65536).Call(alloc).Op(wasm.OpDrop).
		LocalGet(1).Call(alloc).LocalSet(2).
		LocalGet(2).LocalGet(0).LocalGet(1).MemoryCopy().
		LocalGet(2).I32(0).I32Store8(3).
		PackRef(2, 1)))

	if withHost {
		b.Export("call_host", b.Func(bridgeArgs, bridgeRet, nil, Code().LocalGet(0).LocalGet(1).Call(0)))
	}
	return b.Bytes()
}

// allocCode is a bump allocator over global cursor that rounds sizes up to
// 8 bytes and grows memory on demand.
func allocCode(cursor uint32) *Asm {
	return Code().
		GlobalGet(cursor).
		GlobalGet(cursor).
		LocalGet(0).I32(7).Op(wasm.OpI32Add).I32(-8).Op(wasm.OpI32And).
		Op(wasm.OpI32Add).GlobalSet(cursor).
		GlobalGet(cursor).MemorySize().I32(16).Op(wasm.OpI32Shl).Op(wasm.OpI32GtU).
		If().
		GlobalGet(cursor).MemorySize().I32(16).Op(wasm.OpI32Shl).Op(wasm.OpI32Sub).
		I32(65535).Op(wasm.OpI32Add).I32(16).Op(wasm.OpI32ShrU).
		MemoryGrow().I32(-1).Op(wasm.OpI32Eq).
		If().Op(wasm.OpUnreachable).End().
		End()
}

// NoAlloc exports memory and an echo-shaped function but no allocator.
func NoAlloc() []byte {
	b := New().Memory(1, 0)
	b.Export("echo", b.Func(bridgeArgs, bridgeRet, nil, Code().PackRef(0, 1)))
	return b.Bytes()
}

// Compute exports plain numeric functions for instrumentation tests:
//
//	sum(n i32) i32       adds n, n-1, ..., 1 in a loop
//	nan_f64() i64        bits of (signalling NaN + 0.0)
//	nan_f32() i32        bits of (signalling NaN + 0.0)
//	div_f64(a, b f64) f64
func Compute() []byte {
	b := New()
	sum := b.Func([]wasm.ValType{i32}, []wasm.ValType{i32}, []wasm.LocalDecl{{Count: 1, Type: i32}}, Code().
		Block().
		Loop().
		LocalGet(0).Op(wasm.OpI32Eqz).BrIf(1).
		LocalGet(1).LocalGet(0).Op(wasm.OpI32Add).LocalSet(1).
		LocalGet(0).I32(1).Op(wasm.OpI32Sub).LocalSet(0).
		Br(0).
		End().
		End().
		LocalGet(1))
	b.Export("sum", sum)

	nan64 := b.Func(nil, []wasm.ValType{i64}, nil, Code().
		F64Bits(0x7FF0000000000001).F64(0).Op(wasm.OpF64Add).Op(wasm.OpI64ReinterpretF64))
	b.Export("nan_f64", nan64)

	nan32 := b.Func(nil, []wasm.ValType{i32}, nil, Code().
		F32Bits(0x7F800001).F32Bits(0).Op(wasm.OpF32Add).Op(wasm.OpI32ReinterpretF32))
	b.Export("nan_f32", nan32)

	div := b.Func([]wasm.ValType{f64, f64}, []wasm.ValType{f64}, nil, Code().
		LocalGet(0).LocalGet(1).Op(wasm.OpF64Div))
	b.Export("div_f64", div)
	return b.Bytes()
}
