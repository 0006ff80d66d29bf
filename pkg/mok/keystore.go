package mok

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// keystore wraps the local signing-credential store (an NSS database
// consulted by pesign).
type keystore struct {
	dir      string
	nickname string
	run      commandRunner
}

// HasCert reports whether the certificate is present under its nickname
func (k *keystore) HasCert(ctx context.Context) bool {
	_, err := k.run(ctx, "", "certutil", "-L", "-d", "sql:"+k.dir, "-n", k.nickname)
	return err == nil
}

// HasPrivateKey reports whether the private key is present
func (k *keystore) HasPrivateKey(ctx context.Context) bool {
	out, err := k.run(ctx, "", "certutil", "-K", "-d", "sql:"+k.dir)
	return err == nil && strings.Contains(out, k.nickname)
}

// Import wraps key and certificate into a transfer bundle at a
// permission-restricted temporary path, imports it into the keystore
// and destroys the bundle unconditionally so key material never leaks
// through the temp filesystem.
func (k *keystore) Import(ctx context.Context, material KeyMaterial) (err error) {
	tmpDir, err := os.MkdirTemp("", "soundsaga-mok-*")
	if err != nil {
		return fmt.Errorf("failed to create bundle directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := os.Chmod(tmpDir, 0o700); err != nil {
		return fmt.Errorf("failed to restrict bundle directory: %w", err)
	}

	bundle := filepath.Join(tmpDir, "transfer.p12")
	_, err = k.run(ctx, "", "openssl", "pkcs12", "-export",
		"-inkey", material.PrivateKeyPath(),
		"-in", material.PEMCertPath(),
		"-name", k.nickname,
		"-passout", "pass:",
		"-out", bundle)
	if err != nil {
		return fmt.Errorf("failed to create transfer bundle: %w", err)
	}

	_, err = k.run(ctx, "\n", "pk12util",
		"-i", bundle,
		"-d", "sql:"+k.dir,
		"-W", "")
	if err != nil {
		return fmt.Errorf("failed to import transfer bundle: %w", err)
	}
	return nil
}
