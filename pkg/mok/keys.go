package mok

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// Well-known key material file names inside the key directory.
const (
	PrivateKeyFile = "MOK.priv"
	DERCertFile    = "MOK.der"
	PEMCertFile    = "MOK.pem"
)

const (
	keyBits = 4096
	// certValidity is intentionally long: the MOK outlives any single
	// kernel build and re-enrollment requires another reboot.
	certValidity = 100 * 365 * 24 * time.Hour
)

// KeyMaterial locates the trust key files on disk
type KeyMaterial struct {
	Dir        string
	CommonName string
}

// PrivateKeyPath returns the PEM private key location
func (k KeyMaterial) PrivateKeyPath() string { return filepath.Join(k.Dir, PrivateKeyFile) }

// DERCertPath returns the DER certificate location (firmware enrollment format)
func (k KeyMaterial) DERCertPath() string { return filepath.Join(k.Dir, DERCertFile) }

// PEMCertPath returns the PEM certificate location (signing utility format)
func (k KeyMaterial) PEMCertPath() string { return filepath.Join(k.Dir, PEMCertFile) }

// FilesExist reports whether all three key material files are present
func (k KeyMaterial) FilesExist() bool {
	for _, path := range []string{k.PrivateKeyPath(), k.DERCertPath(), k.PEMCertPath()} {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// Generate creates an RSA key pair and a long-validity self-signed
// certificate, writing the private key, DER cert and PEM cert into the
// key directory. The private key file is permission-restricted.
func (k KeyMaterial) Generate() error {
	if err := os.MkdirAll(k.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return fmt.Errorf("failed to generate RSA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("failed to generate certificate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: k.CommonName},
		NotBefore:             now,
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := writePEM(k.PrivateKeyPath(), "PRIVATE KEY", keyDER, 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(k.DERCertPath(), der, 0o644); err != nil {
		return fmt.Errorf("failed to write DER certificate: %w", err)
	}
	if err := writePEM(k.PEMCertPath(), "CERTIFICATE", der, 0o644); err != nil {
		return err
	}
	return nil
}

// AdoptFrom copies existing key material from another directory into
// the managed key directory, e.g. when the operator already has a MOK.
func (k KeyMaterial) AdoptFrom(srcDir string) error {
	src := KeyMaterial{Dir: srcDir}
	if !src.FilesExist() {
		return fmt.Errorf("key material not found at %s (need %s, %s, %s)",
			srcDir, PrivateKeyFile, DERCertFile, PEMCertFile)
	}

	if err := os.MkdirAll(k.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	pairs := [][2]string{
		{src.PrivateKeyPath(), k.PrivateKeyPath()},
		{src.DERCertPath(), k.DERCertPath()},
		{src.PEMCertPath(), k.PEMCertPath()},
	}
	for _, pair := range pairs {
		mode := os.FileMode(0o644)
		if filepath.Base(pair[0]) == PrivateKeyFile {
			mode = 0o600
		}
		if err := copyFile(pair[0], pair[1], mode); err != nil {
			return err
		}
	}
	return nil
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return nil
}
