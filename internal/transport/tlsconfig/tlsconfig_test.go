package tlsconfig

import (
	"crypto/tls"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testcertPath = "testdata/testcert.pem"
	testkeyPath  = "testdata/testkey.pem"
	testCommonName = "localhost"
)

func TestGetServerConfigLoadsCertificateAndDefaultsALPN(t *testing.T) {
	cfg, err := GetServerConfig(ServerOptions{CertPath: testcertPath, KeyPath: testkeyPath})
	require.NoError(t, err)

	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, []string{ALPNH2, ALPNHTTP11}, cfg.NextProtos)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)
	assert.Nil(t, cfg.ClientCAs)
}

func TestGetServerConfigMutualTLS(t *testing.T) {
	cfg, err := GetServerConfig(ServerOptions{
		CertPath:    testcertPath,
		KeyPath:     testkeyPath,
		ClientCA:    testcertPath,
		RequireMTLS: true,
	})
	require.NoError(t, err)

	assert.NotNil(t, cfg.ClientCAs)
	assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
}

func TestGetServerConfigCustomNextProtos(t *testing.T) {
	cfg, err := GetServerConfig(ServerOptions{
		CertPath:   testcertPath,
		KeyPath:    testkeyPath,
		NextProtos: []string{ALPNH3},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{ALPNH3}, cfg.NextProtos)
}

func TestGetClientConfigLoadsRootCA(t *testing.T) {
	cfg, err := GetClientConfig(ClientOptions{RootCA: testcertPath, ServerName: testCommonName})
	require.NoError(t, err)

	assert.NotNil(t, cfg.RootCAs)
	assert.Equal(t, testCommonName, cfg.ServerName)
}

func TestLoadCertRejectsMissingFile(t *testing.T) {
	_, err := LoadCert("testdata/does-not-exist.pem")
	assert.Error(t, err)
}

func TestCertReloaderServesLoadedCertificate(t *testing.T) {
	expected, err := tls.LoadX509KeyPair(testcertPath, testkeyPath)
	require.NoError(t, err)

	log := zerolog.Nop()
	reloader, err := NewCertReloader(testcertPath, testkeyPath, &log)
	require.NoError(t, err)
	defer reloader.Close()

	cert, err := reloader.Cert(&tls.ClientHelloInfo{ServerName: testCommonName})
	require.NoError(t, err)
	assert.Equal(t, expected, *cert)

	cfg, err := GetServerConfig(ServerOptions{Reloader: reloader})
	require.NoError(t, err)
	cert, err = cfg.GetCertificate(&tls.ClientHelloInfo{ServerName: testCommonName})
	require.NoError(t, err)
	assert.Equal(t, expected, *cert)
}
