package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailureRoundTrip(t *testing.T) {
	f := Failure{Code: CodeValidation, Message: "amount must be positive"}
	got := ParseFailure(f.Bytes())
	assert.Equal(t, f, got)
	assert.Equal(t, "validation: amount must be positive", got.Error())
}

func TestFailureLayout(t *testing.T) {
	b := Failure{Code: CodeTimeout, Message: "slow"}.Bytes()
	assert.Equal(t, []byte{7, 0, 0, 0, 's', 'l', 'o', 'w'}, b)
}

func TestFailureWirePrimitives(t *testing.T) {
	w := NewWriter(nil)
	w.U32(uint32(CodeMemory))
	w.Raw([]byte("arena full"))
	assert.Equal(t, Failure{Code: CodeMemory, Message: "arena full"}, ParseFailure(w.Bytes()))

	r := NewReader(Failure{Code: CodeGuestCall, Message: "bad"}.AppendTo([]byte{0xFF}))
	assert.Equal(t, uint8(0xFF), r.U8())
	assert.Equal(t, uint32(CodeGuestCall), r.U32())
	assert.Equal(t, []byte("bad"), r.Raw(r.Remaining()))
	require.NoError(t, r.Err())
}

func TestParseFailureShortPayload(t *testing.T) {
	assert.Equal(t, Failure{Code: CodeUnknown, Message: "no"}, ParseFailure([]byte("no")))
	assert.Equal(t, Failure{Code: CodeUnknown}, ParseFailure(nil))
	assert.Equal(t, "unknown", ParseFailure(nil).Error())
}

func TestEncodeFailure(t *testing.T) {
	enc, err := EncodeFailure(CodeHostCall, "boom")
	require.NoError(t, err)

	env, err := Decode(enc)
	require.NoError(t, err)
	assert.True(t, env.IsError())
	assert.Equal(t, Failure{Code: CodeHostCall, Message: "boom"}, ParseFailure(env.Payload))
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "permission_denied", CodePermissionDenied.String())
	assert.Equal(t, "code_42", Code(42).String())
}
