package util

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"abcdefgh", 3, "abc..."},
		{"héllo", 2, "h..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Truncate(tt.in, tt.n), tt.in)
	}
}

func TestProcessAlive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert.True(t, ProcessAlive(ctx, int32(os.Getpid())))
	assert.False(t, ProcessAlive(ctx, 0))
	assert.False(t, ProcessAlive(ctx, -5))
}

func TestGetProcessStats(t *testing.T) {
	t.Parallel()
	stats, err := GetProcessStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), stats.PID)
	assert.Positive(t, stats.Goroutines)
}

func TestLocalCert(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	certFile := filepath.Join(dir, "certs", "cert.pem")
	keyFile := filepath.Join(dir, "certs", "key.pem")

	cert, err := NewLocalCert("192.168.1.20", "companion.lan", "")
	require.NoError(t, err)
	require.NoError(t, cert.WriteFiles(certFile, keyFile))

	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)
	require.NotEmpty(t, pair.Certificate)

	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost", "companion.lan"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 3)
	assert.True(t, leaf.IPAddresses[2].Equal(net.ParseIP("192.168.1.20")))
	assert.NoError(t, leaf.VerifyHostname("127.0.0.1"))

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	if !IsWindows() {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestCleanOldLogsKeepsNewest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{"companion_2026-01-01.log", "companion_2026-01-02.log", "companion_2026-01-03.log", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	cleanOldLogs(dir, 2)

	assert.NoFileExists(t, filepath.Join(dir, "companion_2026-01-01.log"))
	assert.FileExists(t, filepath.Join(dir, "companion_2026-01-02.log"))
	assert.FileExists(t, filepath.Join(dir, "companion_2026-01-03.log"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}
