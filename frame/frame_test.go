package frame

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Run("status request frame matches the documented byte layout", func(t *testing.T) {
		encoded, err := Encode([3]byte{0x01, 0x02, 0x02}, nil)
		require.NoError(t, err)
		// checksum is the sum of the 7 preceding bytes: 0x55+0xaa+0x01+0x02+0x02+0x00+0x00 = 0x0104.
		assert.Equal(t, []byte{0x55, 0xaa, 0x01, 0x02, 0x02, 0x00, 0x00, 0x01, 0x04}, encoded)

		msg, err := Codec{}.Decode(bufio.NewReader(bytes.NewReader(encoded)))
		require.NoError(t, err)
		assert.Equal(t, [3]byte{0x01, 0x02, 0x02}, msg.Identifier)
		assert.Empty(t, msg.Payload)
	})

	t.Run("arbitrary identifier and payload round-trip", func(t *testing.T) {
		ident := [3]byte{0x01, 0x82, 0x00}
		payload := bytes.Repeat([]byte{0xAB, 0xCD}, 6)

		encoded, err := Encode(ident, payload)
		require.NoError(t, err)

		msg, err := Codec{}.Decode(bufio.NewReader(bytes.NewReader(encoded)))
		require.NoError(t, err)
		assert.Equal(t, ident, msg.Identifier)
		assert.Equal(t, payload, msg.Payload)
	})
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode([3]byte{0, 0, 0}, make([]byte, MaxPayloadSize+1))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDecodeEOF(t *testing.T) {
	_, err := Codec{}.Decode(bufio.NewReader(bytes.NewReader(nil)))
	assert.ErrorIs(t, err, ErrEOF)
}

func TestDecodeMalformedStartMarker(t *testing.T) {
	buf := []byte{0x00, 0x00, 0x01, 0x02, 0x02, 0x00, 0x00, 0x01, 0x07}
	_, err := Codec{}.Decode(bufio.NewReader(bytes.NewReader(buf)))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeMalformedOversizedLength(t *testing.T) {
	buf := []byte{0x55, 0xaa, 0x01, 0x02, 0x02, 0xff, 0xff}
	_, err := Codec{}.Decode(bufio.NewReader(bytes.NewReader(buf)))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeBadChecksum(t *testing.T) {
	buf := []byte{0x55, 0xaa, 0x01, 0x02, 0x02, 0x00, 0x00, 0x00, 0x00}
	_, err := Codec{}.Decode(bufio.NewReader(bytes.NewReader(buf)))
	assert.ErrorIs(t, err, ErrBadChecksum)
}

func TestDecodeLaxSkipsValidation(t *testing.T) {
	buf := []byte{0x00, 0x00, 0x01, 0x02, 0x02, 0x00, 0x00, 0x00, 0x00}
	msg, err := Codec{Lax: true}.Decode(bufio.NewReader(bytes.NewReader(buf)))
	require.NoError(t, err)
	assert.Equal(t, [3]byte{0x01, 0x02, 0x02}, msg.Identifier)
}

func TestDecodeMidStreamResync(t *testing.T) {
	// Two frames back to back: a non-matching reply followed by the one a
	// caller actually wants. Decode just returns frames in order; the
	// resync policy itself lives in the session layer (see session tests).
	unexpected, err := Encode([3]byte{0x01, 0x7f, 0x00}, []byte("x"))
	require.NoError(t, err)
	expected, err := Encode([3]byte{0x01, 0x82, 0x00}, []byte("y"))
	require.NoError(t, err)

	r := bufio.NewReader(bytes.NewReader(append(unexpected, expected...)))
	codec := Codec{}

	first, err := codec.Decode(r)
	require.NoError(t, err)
	assert.Equal(t, [3]byte{0x01, 0x7f, 0x00}, first.Identifier)

	second, err := codec.Decode(r)
	require.NoError(t, err)
	assert.Equal(t, [3]byte{0x01, 0x82, 0x00}, second.Identifier)
}

func TestChecksumIsSumOfPrecedingBytes(t *testing.T) {
	encoded, err := Encode([3]byte{0x00, 0x40, 0x02}, []byte("I AM SERVER"))
	require.NoError(t, err)

	var sum uint32
	for _, b := range encoded[:len(encoded)-2] {
		sum += uint32(b)
	}
	want := uint16(sum)
	got := uint16(encoded[len(encoded)-2])<<8 | uint16(encoded[len(encoded)-1])
	assert.Equal(t, want, got)
}
