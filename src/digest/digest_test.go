package digest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfRoundTrip(t *testing.T) {
	for _, s := range []string{"", "foobar", "a longer blob of bytes to hash up"} {
		d := Of([]byte(s))
		assert.Equal(t, int64(len(s)), d.Size)
		got, err := FromHex(d.Hex(), d.Size)
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
}

func TestFoobarDigest(t *testing.T) {
	d := Of([]byte("foobar"))
	assert.Equal(t, "c3ab8ff13720e8ad9047dd39466b3c8974e592c2fa383d4a3960714caef0c4f2", d.Hex())
	assert.Equal(t, int64(6), d.Size)
}

func TestOfReaderMatchesOf(t *testing.T) {
	b := []byte("streamed content")
	d, err := OfReader(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, Of(b), d)
}

func TestEmpty(t *testing.T) {
	assert.True(t, Empty.IsEmpty())
	assert.True(t, Of(nil).IsEmpty())
	assert.False(t, Of([]byte("x")).IsEmpty())
}

func TestFromHexRejectsBadHash(t *testing.T) {
	_, err := FromHex("not-hex", 0)
	assert.Error(t, err)
	_, err = FromHex("abcd", 0)
	assert.Error(t, err)
}

func TestProtoRoundTrip(t *testing.T) {
	d := Of([]byte("foobar"))
	p := d.Proto()
	assert.Equal(t, d.Hex(), p.Hash)
	assert.Equal(t, d.Size, p.SizeBytes)
	back, err := FromProto(p)
	require.NoError(t, err)
	assert.Equal(t, d, back)
}
