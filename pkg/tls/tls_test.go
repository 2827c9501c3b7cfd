package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testPKI struct {
	caFile     string
	serverCert string
	serverKey  string
	clientCert string
	clientKey  string
}

func writePEM(t *testing.T, path, kind string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: kind, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
}

// newTestPKI writes a CA plus a server and a client certificate signed by it.
func newTestPKI(t *testing.T) testPKI {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatal(err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatal(err)
	}

	issue := func(serial int64, name string, usage x509.ExtKeyUsage) (string, string) {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(serial),
			Subject:      pkix.Name{CommonName: name},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(time.Hour),
			KeyUsage:     x509.KeyUsageDigitalSignature,
			ExtKeyUsage:  []x509.ExtKeyUsage{usage},
			IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, caCert, &key.PublicKey, caKey)
		if err != nil {
			t.Fatal(err)
		}
		keyDER, err := x509.MarshalECPrivateKey(key)
		if err != nil {
			t.Fatal(err)
		}
		certPath := filepath.Join(dir, name+".crt")
		keyPath := filepath.Join(dir, name+".key")
		writePEM(t, certPath, "CERTIFICATE", der)
		writePEM(t, keyPath, "EC PRIVATE KEY", keyDER)
		return certPath, keyPath
	}

	p := testPKI{caFile: filepath.Join(dir, "ca.crt")}
	writePEM(t, p.caFile, "CERTIFICATE", caDER)
	p.serverCert, p.serverKey = issue(2, "server", x509.ExtKeyUsageServerAuth)
	p.clientCert, p.clientKey = issue(3, "client", x509.ExtKeyUsageClientAuth)
	return p
}

func TestConfig_Validate(t *testing.T) {
	p := newTestPKI(t)

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "disabled", cfg: Config{}},
		{name: "server only", cfg: Config{Enabled: true, CertFile: p.serverCert, KeyFile: p.serverKey}},
		{name: "mutual", cfg: Config{Enabled: true, CertFile: p.serverCert, KeyFile: p.serverKey, CAFile: p.caFile}},
		{name: "missing key", cfg: Config{Enabled: true, CertFile: p.serverCert}, wantErr: true},
		{name: "missing file", cfg: Config{Enabled: true, CertFile: p.serverCert, KeyFile: "/nonexistent.key"}, wantErr: true},
		{name: "missing ca", cfg: Config{Enabled: true, CertFile: p.serverCert, KeyFile: p.serverKey, CAFile: "/nonexistent.crt"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfig(t *testing.T) {
	p := newTestPKI(t)

	cfg, err := Config{}.ServerConfig()
	if err != nil || cfg != nil {
		t.Fatalf("disabled ServerConfig() = %v, %v; want nil, nil", cfg, err)
	}

	cfg, err = Config{Enabled: true, CertFile: p.serverCert, KeyFile: p.serverKey}.ServerConfig()
	if err != nil {
		t.Fatalf("ServerConfig() error = %v", err)
	}
	if len(cfg.Certificates) != 1 || cfg.ClientAuth != tls.NoClientCert {
		t.Errorf("server-only config = %d certs, client auth %v", len(cfg.Certificates), cfg.ClientAuth)
	}

	cfg, err = Config{Enabled: true, CertFile: p.serverCert, KeyFile: p.serverKey, CAFile: p.caFile}.ServerConfig()
	if err != nil {
		t.Fatalf("ServerConfig() error = %v", err)
	}
	if cfg.ClientAuth != tls.RequireAndVerifyClientCert || cfg.ClientCAs == nil {
		t.Error("CA file should require client certificates")
	}

	if _, err := (Config{Enabled: true, CertFile: p.caFile, KeyFile: p.serverKey}).ServerConfig(); err == nil {
		t.Error("expected error for mismatched key pair")
	}
}

func TestNewClientConfig_Errors(t *testing.T) {
	p := newTestPKI(t)

	if _, err := NewClientConfig("", "", ""); err == nil {
		t.Error("expected error for empty CA file")
	}
	if _, err := NewClientConfig("", "", p.serverKey); err == nil {
		t.Error("expected error for CA file without certificates")
	}
	if _, err := NewClientConfig(p.clientCert, "", p.caFile); err == nil {
		t.Error("expected error for certificate without key")
	}
}

func TestMutualTLS_Handshake(t *testing.T) {
	p := newTestPKI(t)

	serverCfg, err := Config{Enabled: true, CertFile: p.serverCert, KeyFile: p.serverKey, CAFile: p.caFile}.ServerConfig()
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv.TLS = serverCfg
	srv.StartTLS()
	defer srv.Close()

	withCert, err := NewClientConfig(p.clientCert, p.clientKey, p.caFile)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: withCert}, Timeout: 5 * time.Second}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("request with client certificate failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	withoutCert, err := NewClientConfig("", "", p.caFile)
	if err != nil {
		t.Fatal(err)
	}
	client = &http.Client{Transport: &http.Transport{TLSClientConfig: withoutCert}, Timeout: 5 * time.Second}
	if resp, err := client.Get(srv.URL); err == nil {
		resp.Body.Close()
		t.Error("request without client certificate should fail")
	}
}

func TestConfig_ClientConfig(t *testing.T) {
	p := newTestPKI(t)

	cfg, err := Config{}.ClientConfig()
	if err != nil || cfg != nil {
		t.Fatalf("disabled ClientConfig() = %v, %v; want nil, nil", cfg, err)
	}

	cfg, err = Config{Enabled: true, CAFile: p.caFile}.ClientConfig()
	if err != nil {
		t.Fatalf("ClientConfig() error = %v", err)
	}
	if cfg.RootCAs == nil || len(cfg.Certificates) != 0 {
		t.Errorf("CA-only config = roots %v, %d certs", cfg.RootCAs != nil, len(cfg.Certificates))
	}
}
