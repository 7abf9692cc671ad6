package ingress

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_UDPStage(t *testing.T) {
	assert := assert.New(t)

	buf := newTestBuffer(t, 8)

	cfg := NewUDPConfig()
	cfg.IPAddr = "127.0.0.1"
	cfg.Port = 0

	stage := NewUDPStage(buf, cfg)
	assert.Nil(stage.LocalAddr())

	done := runTestStage(t.Context(), t, stage)

	client, err := net.Dial("udp", stage.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal("ping", string(readN(t, buf, 4)))

	// Only half of the second datagram fits
	_, err = client.Write([]byte("0123456789ab"))
	require.NoError(t, err)
	assert.Equal("01234567", string(readN(t, buf, 8)))

	assert.Equal(int64(2), stage.source.receivedDatagrams.Load())
	assert.Equal(int64(4), stage.writer.droppedBytes.Load())

	stage.Close()
	waitDone(t, done)
}
