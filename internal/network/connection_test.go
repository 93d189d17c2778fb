package network

import (
	"context"
	"crypto/tls"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rift-companion/companion/internal/util"
)

func pipeStream(t *testing.T) (*Stream, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return NewStream(client), server
}

func TestReadAvailableReturnsBufferedData(t *testing.T) {
	t.Parallel()
	stream, server := pipeStream(t)

	go server.Write([]byte(`<presence from="a@b"></presence>`))

	got, err := stream.ReadAvailable(time.Second)
	require.NoError(t, err)
	assert.Equal(t, `<presence from="a@b"></presence>`, got)
}

func TestReadAvailableTimeoutIsEmptyNotError(t *testing.T) {
	t.Parallel()
	stream, _ := pipeStream(t)

	got, err := stream.ReadAvailable(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadAvailableEOF(t *testing.T) {
	t.Parallel()
	stream, server := pipeStream(t)
	server.Close()

	_, err := stream.ReadAvailable(time.Second)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestReadAvailableReplacesInvalidUTF8(t *testing.T) {
	t.Parallel()
	stream, server := pipeStream(t)

	go server.Write([]byte{'o', 'k', 0xff})

	got, err := stream.ReadAvailable(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok\uFFFD", got)
}

func TestReadUntilAccumulatesAcrossWrites(t *testing.T) {
	t.Parallel()
	stream, server := pipeStream(t)

	go func() {
		server.Write([]byte("<stream:features><mechanisms/>"))
		time.Sleep(100 * time.Millisecond)
		server.Write([]byte("</stream:features>"))
	}()

	got, err := stream.ReadUntil("</stream:features>", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "<stream:features><mechanisms/></stream:features>", got)
}

func TestReadUntilTimeoutIncludesPreview(t *testing.T) {
	t.Parallel()
	stream, server := pipeStream(t)

	go server.Write([]byte("<iq partial"))

	_, err := stream.ReadUntil("</iq>", time.Second)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "<iq partial")
}

func TestReadUntilEOF(t *testing.T) {
	t.Parallel()
	stream, server := pipeStream(t)
	server.Close()

	_, err := stream.ReadUntil("</iq>", time.Second)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestWriteAfterClose(t *testing.T) {
	t.Parallel()
	stream, _ := pipeStream(t)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	assert.True(t, stream.IsClosed())
	assert.ErrorIs(t, stream.Write("<presence/>"), ErrConnectionClosed)
}

func TestPreviewTruncates(t *testing.T) {
	t.Parallel()
	assert.Len(t, preview(strings.Repeat("x", 900)), 500)
	assert.Equal(t, "short", preview("short"))
}

func TestDialTLS(t *testing.T) {
	t.Parallel()

	local, err := util.NewLocalCert()
	require.NoError(t, err)
	cert, err := tls.X509KeyPair(local.CertPEM, local.KeyPEM)
	require.NoError(t, err)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 64)
				n, err := conn.Read(buf)
				if err != nil {
					return
				}
				conn.Write(buf[:n])
				time.Sleep(200 * time.Millisecond)
			}()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port

	t.Run("verification rejects self-signed", func(t *testing.T) {
		_, err := Dial(context.Background(), "127.0.0.1", DialConfig{Port: port, ConnectTimeout: 2 * time.Second})
		assert.Error(t, err)
	})

	t.Run("insecure flag accepts and echoes", func(t *testing.T) {
		stream, err := Dial(context.Background(), "127.0.0.1", DialConfig{
			Port:               port,
			ConnectTimeout:     2 * time.Second,
			InsecureSkipVerify: true,
		})
		require.NoError(t, err)
		defer stream.Close()

		require.NoError(t, stream.Write("<presence/>"))
		got, err := stream.ReadUntil("<presence/>", 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "<presence/>", got)
	})

	t.Run("refused", func(t *testing.T) {
		_, err := Dial(context.Background(), "127.0.0.1", DialConfig{Port: freePort(t), ConnectTimeout: time.Second})
		assert.Error(t, err)
	})
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}
