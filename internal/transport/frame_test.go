package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sysinspect/sysinspect/api/types"
)

func TestWriteThenReadFrameRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	msg := types.MasterMessage{CycleID: "c-1", Request: types.RequestPing}
	require.NoError(t, WriteFrame(&buf, msg))

	var got types.MasterMessage
	require.NoError(t, ReadFrame(&buf, &got))
	require.Equal(t, msg, got)
}

func TestReadFrameRejectsOversizedLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	header := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(header)

	var got types.MasterMessage
	err := ReadFrame(&buf, &got)
	require.Error(t, err)
}

func TestReadFrameShortBodyIsProtocolError(t *testing.T) {
	var buf bytes.Buffer
	header := []byte{0, 0, 0, 10}
	buf.Write(header)
	buf.WriteString("short")

	var got types.MasterMessage
	err := ReadFrame(&buf, &got)
	require.Error(t, err)
}

func TestWriteFrameRejectsFrameLargerThanMax(t *testing.T) {
	var buf bytes.Buffer
	big := make([]byte, MaxFrameSize+1)
	err := WriteFrame(&buf, string(big))
	require.Error(t, err)
}

func TestFrameWriterSerializesConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			_ = fw.Write(types.MasterMessage{CycleID: "c", Request: types.RequestPing, Retcode: uint8(i)})
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	var count int
	for buf.Len() > 0 {
		var got types.MasterMessage
		require.NoError(t, ReadFrame(&buf, &got))
		count++
	}
	require.Equal(t, 8, count)
}
