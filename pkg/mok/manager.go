// Package mok manages the Machine Owner Key: generation, firmware
// trust-storage enrollment and signing-keystore import. Enrollment
// completes at firmware boot via a one-time password, which is why the
// surrounding workflow must tolerate a reboot boundary.
package mok

import (
	"context"
	"errors"
	"fmt"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/prompt"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/types"
)

// ErrSigningPrerequisiteMissing indicates signing was requested but the
// trust-key prerequisites are not satisfied.
var ErrSigningPrerequisiteMissing = errors.New("signing prerequisite missing")

// Outcome is the result of resolving the trust-key state machine
type Outcome int

const (
	// OutcomeReady means key files exist, the cert is enrolled and the
	// keystore is configured.
	OutcomeReady Outcome = iota
	// OutcomeSkipSigning means the operator chose an unsigned build.
	OutcomeSkipSigning
	// OutcomeRebootRequired means an enrollment was queued and the
	// machine must reboot before signing can proceed.
	OutcomeRebootRequired
)

// Choice IDs offered through the prompt.Chooser.
const (
	choiceGenerate    = "generate"
	choiceUseExisting = "use-existing"
	choiceSkipSigning = "skip-signing"
	choiceEnroll      = "enroll"
)

// Manager drives the trust-key state machine
type Manager struct {
	material KeyMaterial
	firmware *firmwareStore
	store    *keystore
	chooser  prompt.Chooser
	logger   logger.Logger
}

// NewManager creates a trust-key manager
func NewManager(cfg types.SigningConfig, chooser prompt.Chooser, log logger.Logger) *Manager {
	return &Manager{
		material: KeyMaterial{Dir: cfg.KeyDir, CommonName: cfg.CommonName},
		firmware: &firmwareStore{run: execCommand},
		store:    &keystore{dir: cfg.KeystoreDir, nickname: cfg.CertNickname, run: execCommand},
		chooser:  chooser,
		logger:   log,
	}
}

// Material returns the managed key material locations
func (m *Manager) Material() KeyMaterial {
	return m.material
}

// Status observes the four trust facts and folds them into the 3-bit
// status: bit0 key files missing, bit1 not enrolled, bit2 keystore
// unconfigured.
func (m *Manager) Status(ctx context.Context) (types.TrustStatus, error) {
	filesExist := m.material.FilesExist()

	enrolled := false
	if filesExist {
		var err error
		enrolled, err = m.firmware.IsEnrolled(ctx, m.material.DERCertPath())
		if err != nil {
			return 0, err
		}
	}

	keystoreCert := m.store.HasCert(ctx)
	keystoreKey := m.store.HasPrivateKey(ctx)

	return types.TrustStatusFromFacts(filesExist, enrolled, keystoreCert, keystoreKey), nil
}

// Resolve dispatches on the status bits in order. Key files missing is
// handled first (the other facts are meaningless without them), then
// enrollment, then keystore import. Only the first two involve the
// operator; the import has no operator-visible side effect and runs
// automatically.
func (m *Manager) Resolve(ctx context.Context, status types.TrustStatus) (Outcome, error) {
	if status.Has(types.TrustKeyFilesMissing) {
		outcome, err := m.resolveMissingFiles()
		if err != nil || outcome == OutcomeSkipSigning {
			return outcome, err
		}
		// Freshly created keys are never enrolled.
		status = types.TrustStatusFromFacts(true, false, m.store.HasCert(ctx), m.store.HasPrivateKey(ctx))
	}

	if status.Has(types.TrustNotEnrolled) {
		return m.resolveUnenrolled(ctx)
	}

	if status.Has(types.TrustKeystoreUnconfigured) {
		m.logger.Info("Importing key material into the signing keystore")
		if err := m.store.Import(ctx, m.material); err != nil {
			return 0, err
		}
		m.logger.Success("Keystore configured")
	}

	return OutcomeReady, nil
}

// VerifyEnrolled re-checks enrollment after the reboot. Still-unenrolled
// is operator-correctable (the firmware prompt was declined or timed
// out), so it is surfaced as a fatal, non-retryable error.
func (m *Manager) VerifyEnrolled(ctx context.Context) error {
	enrolled, err := m.firmware.IsEnrolled(ctx, m.material.DERCertPath())
	if err != nil {
		return err
	}
	if !enrolled {
		return ErrEnrollmentIncomplete
	}
	return nil
}

func (m *Manager) resolveMissingFiles() (Outcome, error) {
	choice, err := m.chooser.Choose(
		"No signing key found. How should the kernel be signed?",
		[]prompt.Option{
			{ID: choiceGenerate, Label: "Generate a new key pair and certificate"},
			{ID: choiceUseExisting, Label: "Use existing key material from another directory"},
			{ID: choiceSkipSigning, Label: "Skip signing (unsigned kernel, Secure Boot must be off)"},
		})
	if err != nil {
		return 0, err
	}

	switch choice.ID {
	case choiceGenerate:
		m.logger.Info("Generating RSA key pair and self-signed certificate",
			logger.WithField("cn", m.material.CommonName))
		if err := m.material.Generate(); err != nil {
			return 0, err
		}
		m.logger.Success("Key material written", logger.WithField("dir", m.material.Dir))
		return OutcomeReady, nil

	case choiceUseExisting:
		srcDir, err := m.chooser.ReadLine("Path to the directory holding MOK.priv, MOK.der and MOK.pem")
		if err != nil {
			return 0, err
		}
		if err := m.material.AdoptFrom(srcDir); err != nil {
			return 0, err
		}
		return OutcomeReady, nil

	case choiceSkipSigning:
		return OutcomeSkipSigning, nil
	}
	return 0, fmt.Errorf("unexpected choice %q", choice.ID)
}

func (m *Manager) resolveUnenrolled(ctx context.Context) (Outcome, error) {
	choice, err := m.chooser.Choose(
		"The certificate is not enrolled in firmware trust storage. Enrolling requires a reboot.",
		[]prompt.Option{
			{ID: choiceEnroll, Label: "Enroll now (queues the certificate, reboot required)"},
			{ID: choiceSkipSigning, Label: "Skip signing for this run"},
		})
	if err != nil {
		return 0, err
	}

	if choice.ID == choiceSkipSigning {
		return OutcomeSkipSigning, nil
	}

	password, err := m.chooser.ReadSecret("Choose a one-time enrollment password (asked again at boot)")
	if err != nil {
		return 0, err
	}
	if password == "" {
		return 0, fmt.Errorf("enrollment password must not be empty")
	}

	if err := m.firmware.QueueEnrollment(ctx, m.material.DERCertPath(), password); err != nil {
		return 0, err
	}

	m.logger.Success("Enrollment queued in firmware trust storage")
	return OutcomeRebootRequired, nil
}
