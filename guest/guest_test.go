package guest

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/envelope"
	"github.com/wippyai/wasm-bridge/envelope/transform"
	"github.com/wippyai/wasm-bridge/errors"
)

func upper(req []byte) ([]byte, error) { return bytes.ToUpper(req), nil }

func encode(t *testing.T, payload []byte, flags envelope.Flags) []byte {
	t.Helper()
	b, err := envelope.Encode(payload, flags)
	require.NoError(t, err)
	return b
}

func TestServe_Success(t *testing.T) {
	a := NewArena(0)
	out := Serve(a, encode(t, []byte("ping"), 0), upper)

	env, err := envelope.Decode(out)
	require.NoError(t, err)
	assert.False(t, env.IsError())
	assert.Equal(t, "PING", string(env.Payload))
	assert.Equal(t, len(out), env.Size())
}

func TestServe_BadInput(t *testing.T) {
	a := NewArena(0)
	called := false
	out := Serve(a, []byte("nope"), func([]byte) ([]byte, error) {
		called = true
		return nil, nil
	})

	assert.False(t, called)
	env, err := envelope.Decode(out)
	require.NoError(t, err)
	require.True(t, env.IsError())
	assert.Equal(t, envelope.CodeDeserialization, envelope.ParseFailure(env.Payload).Code)
}

func TestServe_HandlerErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    envelope.Code
		message string
	}{
		{"plain", fmt.Errorf("boom"), envelope.CodeGuestCall, "boom"},
		{"failure", envelope.Failure{Code: envelope.CodeValidation, Message: "bad field"}, envelope.CodeValidation, "bad field"},
		{"wrapped", fmt.Errorf("lookup: %w", envelope.Failure{Code: envelope.CodePermissionDenied, Message: "no"}), envelope.CodePermissionDenied, "no"},
		{"pointer", &envelope.Failure{Code: envelope.CodeTimeout, Message: "slow"}, envelope.CodeTimeout, "slow"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewArena(0)
			out := Serve(a, encode(t, []byte("x"), 0), func([]byte) ([]byte, error) { return nil, tt.err })

			env, err := envelope.Decode(out)
			require.NoError(t, err)
			require.True(t, env.IsError())
			f := envelope.ParseFailure(env.Payload)
			assert.Equal(t, tt.code, f.Code)
			assert.Equal(t, tt.message, f.Message)
		})
	}
}

func TestServe_ResponseInArena(t *testing.T) {
	a := NewArena(0)
	out := Serve(a, encode(t, []byte("abc"), 0), upper)
	assert.Equal(t, envelope.EncodedSize(3), len(out))
	assert.Equal(t, len(out), cap(out))
	assert.GreaterOrEqual(t, a.Used(), len(out))
}

func TestServe_Transforms(t *testing.T) {
	z, err := transform.NewZstd(zstd.SpeedFastest, 1<<20)
	require.NoError(t, err)
	defer z.Close()

	req, err := transform.Seal(bytes.Repeat([]byte("ab"), 500), 0, z)
	require.NoError(t, err)

	a := NewArena(0)
	out := Serve(a, req, upper, z)

	env, err := transform.Open(out, z)
	require.NoError(t, err)
	assert.True(t, env.Flags().Has(envelope.FlagCompressed))
	assert.Equal(t, bytes.Repeat([]byte("AB"), 500), env.Payload)

	// A guest without the transform cannot read the request.
	out = Serve(a, req, upper)
	env, err = envelope.Decode(out)
	require.NoError(t, err)
	assert.True(t, env.IsError())
}

func TestEncodeErr(t *testing.T) {
	a := NewArena(0)
	out := EncodeErr(a, envelope.CodeMemory, "oom")

	env, err := envelope.Decode(out)
	require.NoError(t, err)
	assert.True(t, env.IsError())
	assert.Equal(t, envelope.Failure{Code: envelope.CodeMemory, Message: "oom"}, envelope.ParseFailure(env.Payload))
}

func TestEncodeOK_Empty(t *testing.T) {
	a := NewArena(0)
	out, err := EncodeOK(a, nil)
	require.NoError(t, err)
	assert.Len(t, out, envelope.HeaderSize)
}

// writeRequest plays the host: reset, allocate, write.
func writeRequest(t *testing.T, payload []byte) (uint32, uint32) {
	t.Helper()
	Reset()
	req := encode(t, payload, 0)
	ptr := Alloc(uint32(len(req)))
	require.NotZero(t, ptr)
	copy(view(ptr, uint32(len(req))), req)
	return ptr, uint32(len(req))
}

func readResponse(t *testing.T, raw uint64) envelope.Envelope {
	t.Helper()
	r := wasmbridge.WasmRef(raw)
	env, err := envelope.Decode(view(r.Ptr(), r.Len()))
	require.NoError(t, err)
	assert.Equal(t, int(r.Len()), env.Size())
	return env
}

func TestHandle(t *testing.T) {
	ptr, n := writeRequest(t, []byte("hello"))

	env := readResponse(t, Handle(ptr, n, upper))
	assert.False(t, env.IsError())
	assert.Equal(t, "HELLO", string(env.Payload))
}

func TestArgsAndReturn(t *testing.T) {
	ptr, n := writeRequest(t, []byte("args"))

	payload, err := Args(ptr, n)
	require.NoError(t, err)
	assert.Equal(t, "args", string(payload))

	env := readResponse(t, ReturnOK([]byte("done")))
	assert.Equal(t, "done", string(env.Payload))

	env = readResponse(t, ReturnErr(envelope.CodeValidation, "nope"))
	require.True(t, env.IsError())
	assert.Equal(t, envelope.CodeValidation, envelope.ParseFailure(env.Payload).Code)
}

func TestArgs_Invalid(t *testing.T) {
	Reset()
	ptr := Alloc(16)
	copy(view(ptr, 16), make([]byte, 16))
	_, err := Args(ptr, 16)
	assert.ErrorIs(t, err, envelope.ErrBadMagic)
}

func TestReset_ReleasesArena(t *testing.T) {
	writeRequest(t, bytes.Repeat([]byte("x"), 4096))
	require.NotZero(t, Default().Used())

	Reset()
	assert.Zero(t, Default().Used())
	assert.Empty(t, regions)
}

// hostEcho answers a host call the way the runtime does: it reads the
// request envelope, allocates the response through Alloc and returns a
// reference to it.
func hostEcho(t *testing.T, fail bool) HostFunc {
	return func(ptr, length uint32) uint64 {
		req, err := envelope.Decode(view(ptr, length))
		require.NoError(t, err)
		assert.True(t, req.Flags().Has(envelope.FlagExpectsResponse))

		var resp []byte
		if fail {
			resp, err = envelope.EncodeFailure(envelope.CodeHostCall, "denied")
		} else {
			resp, err = envelope.Encode(bytes.ToUpper(req.Payload), 0)
		}
		require.NoError(t, err)

		out := Alloc(uint32(len(resp)))
		copy(view(out, uint32(len(resp))), resp)
		return uint64(wasmbridge.NewRef(out, uint32(len(resp))))
	}
}

func TestCallHost(t *testing.T) {
	Reset()
	got, err := CallHost(hostEcho(t, false), []byte("lookup"))
	require.NoError(t, err)
	assert.Equal(t, "LOOKUP", string(got))
}

func TestCallHost_Failure(t *testing.T) {
	Reset()
	_, err := CallHost(hostEcho(t, true), []byte("lookup"))
	require.Error(t, err)

	var f envelope.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, envelope.CodeHostCall, f.Code)
	assert.Equal(t, "denied", f.Message)
}

func TestCallHost_EmptyResponse(t *testing.T) {
	Reset()
	_, err := CallHost(func(uint32, uint32) uint64 { return 0 }, []byte("x"))
	assert.True(t, errors.IsKind(err, errors.KindInvalidData))
}

func TestCallHost_Transforms(t *testing.T) {
	z, err := transform.NewZstd(zstd.SpeedFastest, 1<<20)
	require.NoError(t, err)
	defer z.Close()

	UseTransforms(z)
	defer UseTransforms()

	Reset()
	host := func(ptr, length uint32) uint64 {
		req, err := transform.Open(view(ptr, length), z)
		require.NoError(t, err)
		require.True(t, req.Flags().Has(envelope.FlagCompressed))

		resp, err := transform.Seal(append([]byte("re: "), req.Payload...), 0, z)
		require.NoError(t, err)
		out := Alloc(uint32(len(resp)))
		copy(view(out, uint32(len(resp))), resp)
		return uint64(wasmbridge.NewRef(out, uint32(len(resp))))
	}

	got, err := CallHost(host, []byte("compressed"))
	require.NoError(t, err)
	assert.Equal(t, "re: compressed", string(got))
}
