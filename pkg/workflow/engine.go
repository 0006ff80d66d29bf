// Package workflow sequences the kernel customization phases into a
// checkpointed, resumable pipeline. State is persisted after each
// phase, so any interruption (kill, reboot) lands on a well-defined
// checkpoint and never on a half-applied edit.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/kconfig"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/kernelsrc"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/mok"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/notifier"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/prompt"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/resources"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/specfile"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/state"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/toolchain"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/types"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/utils"
)

const defaultBootDir = "/boot"

// TrustResolver is the trust-key surface the engine drives during the
// sign phase. Satisfied by *mok.Manager.
type TrustResolver interface {
	Status(ctx context.Context) (types.TrustStatus, error)
	Resolve(ctx context.Context, status types.TrustStatus) (mok.Outcome, error)
	VerifyEnrolled(ctx context.Context) error
}

// packageInstaller is the package-manager slice of the install phase.
// Satisfied by *toolchain.PackageInstaller.
type packageInstaller interface {
	Install(ctx context.Context, rpms []string) error
	ForceRefreshDependencies(ctx context.Context) error
}

// Engine drives the fixed phase sequence
type Engine struct {
	cfg     types.WorkflowConfig
	logger  logger.Logger
	bootDir string

	states    *state.Repository
	cache     *resources.Cache
	resolver  *kernelsrc.Resolver
	specMut   *specfile.Mutator
	matrixMut *kconfig.Mutator
	trust     TrustResolver
	builder   *toolchain.KernelBuilder
	installer packageInstaller
	signer    *toolchain.ImageSigner
	firmware  *toolchain.FirmwareInstaller
	notify    *notifier.Notifier
	chooser   prompt.Chooser
}

// session carries per-run values recomputed lazily on resumption.
// Everything durable lives in WorkflowState or on disk; this is only a
// cache for the current process lifetime.
type session struct {
	set     *resources.ResourceSet
	pairing *types.VersionPatchPairing
	rpms    []string
	signed  bool
}

// New wires an engine from the resolved configuration
func New(cfg types.WorkflowConfig, chooser prompt.Chooser, log logger.Logger) *Engine {
	runner := toolchain.NewRunner(cfg.WorkDir, log)
	resolver := kernelsrc.NewResolver(cfg, log)

	return &Engine{
		cfg:       cfg,
		logger:    log,
		bootDir:   defaultBootDir,
		states:    state.NewRepository(cfg.WorkDir, log),
		cache:     resources.NewCache(cfg, log),
		resolver:  resolver,
		specMut:   specfile.NewMutator(log),
		matrixMut: kconfig.NewMutator(cfg, log),
		trust:     mok.NewManager(cfg.Signing, chooser, log),
		builder:   toolchain.NewKernelBuilder(runner, resolver.SourceDir(), cfg.SpecFileName, log),
		installer: toolchain.NewPackageInstaller(runner, log),
		signer:    toolchain.NewImageSigner(runner, cfg.Signing.KeystoreDir, cfg.Signing.CertNickname, log),
		firmware:  toolchain.NewFirmwareInstaller(log),
		notify:    notifier.New(cfg.Notify, log),
		chooser:   chooser,
	}
}

// States exposes the state repository (status command)
func (e *Engine) States() *state.Repository {
	return e.states
}

// Trust exposes the trust-key manager (sign and status commands)
func (e *Engine) Trust() TrustResolver {
	return e.trust
}

// Cache exposes the resource cache (status and install-firmware commands)
func (e *Engine) Cache() *resources.Cache {
	return e.cache
}

// Firmware exposes the firmware installer (install-firmware command)
func (e *Engine) Firmware() *toolchain.FirmwareInstaller {
	return e.firmware
}

type phaseStep struct {
	phase  types.Phase
	run    func(ctx context.Context, s *session, st *types.WorkflowState) error
	verify func(ctx context.Context, s *session, st *types.WorkflowState) error
}

func (e *Engine) steps() []phaseStep {
	return []phaseStep{
		{types.PhaseSetup, e.runSetup, e.verifySetup},
		{types.PhaseVersionSelect, e.runVersionSelect, e.verifyVersionSelect},
		{types.PhasePatchSelect, e.runPatchSelect, e.verifyPatchSelect},
		{types.PhaseSourcePrepare, e.runSourcePrepare, e.verifySourcePrepare},
		{types.PhaseSpecMutate, e.runSpecMutate, e.verifySpecMutate},
		{types.PhaseConfigMutate, e.runConfigMutate, e.verifyConfigMutate},
		{types.PhaseBuild, e.runBuild, e.verifyBuild},
		{types.PhaseInstall, e.runInstall, e.verifyInstall},
		{types.PhaseSign, e.runSign, e.verifySign},
		{types.PhaseArchive, e.runArchive, e.verifyArchive},
	}
}

// Run executes or resumes the workflow. It returns ErrEnrollmentPending
// when the run is suspended for the enrollment reboot.
func (e *Engine) Run(ctx context.Context) (*types.BuildArtifact, error) {
	steps := e.steps()
	sess := &session{}

	st, err := e.states.Load()
	if err != nil {
		return nil, err
	}

	startIdx := 0
	if st != nil {
		// Persisted phase is the last completed one. Re-verify its side
		// effects defensively instead of trusting the record blindly;
		// if they are gone, re-run that phase rather than the whole
		// workflow.
		idx := st.Phase.Index()
		e.logger.Info("Resuming workflow",
			logger.WithField("runId", st.RunID),
			logger.WithField("completedPhase", st.Phase),
			logger.WithField("kernelVersion", st.KernelVersion))

		if verr := steps[idx].verify(ctx, sess, st); verr != nil {
			e.logger.Warn("Completed phase failed re-verification, re-running it",
				logger.WithField("phase", st.Phase),
				logger.WithField("reason", verr))
			startIdx = idx
		} else {
			startIdx = idx + 1
		}
	} else {
		st = e.states.NewState()
		e.logger.Info("Starting workflow", logger.WithField("runId", st.RunID))
	}

	for i := startIdx; i < len(steps); i++ {
		step := steps[i]
		phaseLog := e.logger.WithPhase(string(step.phase))

		if e.cfg.SkipsPhase(step.phase) {
			if verr := step.verify(ctx, sess, st); verr != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrSkipVerificationFailed, step.phase, verr)
			}
			phaseLog.Info("Phase skipped (side effects verified)")
		} else {
			phaseLog.Info("Phase starting")
			if err := step.run(ctx, sess, st); err != nil {
				// State stays untouched so resumption retries this phase.
				if errors.Is(err, ErrEnrollmentPending) {
					return nil, err
				}
				phaseLog.Error("Phase failed", logger.WithField("error", err))
				return nil, fmt.Errorf("phase %s: %w", step.phase, err)
			}
			phaseLog.Success("Phase complete")
		}

		// Checkpoint: every side effect of the phase is durable by now.
		st.Phase = step.phase
		if err := e.states.Save(st); err != nil {
			return nil, err
		}
	}

	if err := e.states.Clear(); err != nil {
		return nil, err
	}

	if sess.rpms == nil {
		rpms, err := e.builder.Packages()
		if err != nil {
			e.logger.Debug("Could not enumerate built packages for the summary",
				logger.WithField("error", err))
		}
		sess.rpms = rpms
	}
	artifact := &types.BuildArtifact{
		KernelVersion: st.KernelVersion,
		PackagePaths:  sess.rpms,
		Signed:        sess.signed,
	}
	e.notify.WorkflowComplete(st.KernelVersion)
	return artifact, nil
}

// Abort discards persisted state so the next run starts from Setup
func (e *Engine) Abort() error {
	return e.states.Clear()
}

// ArchiveNow archives the built packages outside a full run and clears
// any persisted state (archive/cleanup subcommand).
func (e *Engine) ArchiveNow(ctx context.Context) error {
	sess := &session{}
	st, err := e.states.Load()
	if err != nil {
		return err
	}
	if st == nil {
		st = e.states.NewState()
	}
	if err := e.runArchive(ctx, sess, st); err != nil {
		return err
	}
	return e.states.Clear()
}

// --- phase helpers ---

func (e *Engine) resourceSet(ctx context.Context, s *session) (*resources.ResourceSet, error) {
	if s.set != nil {
		return s.set, nil
	}
	set, err := e.cache.Verify()
	if err != nil {
		return nil, err
	}
	s.set = set
	return set, nil
}

func (e *Engine) currentPairing(ctx context.Context, s *session, st *types.WorkflowState) (*types.VersionPatchPairing, error) {
	if s.pairing != nil {
		return s.pairing, nil
	}
	set, err := e.resourceSet(ctx, s)
	if err != nil {
		return nil, err
	}
	pairing, err := e.resolver.Pair(ctx, st.KernelVersion, set.Patches)
	if err != nil {
		return nil, err
	}
	s.pairing = &pairing
	return s.pairing, nil
}

func (e *Engine) specPath() string {
	return filepath.Join(e.resolver.SourceDir(), e.cfg.SpecFileName)
}

func (e *Engine) configRoot() string {
	return filepath.Join(e.resolver.SourceDir(), "config")
}

// --- Setup ---

func (e *Engine) runSetup(ctx context.Context, s *session, st *types.WorkflowState) error {
	set, err := e.cache.Ensure(ctx)
	if err != nil {
		return err
	}
	s.set = set
	return e.resolver.EnsureSource(ctx)
}

func (e *Engine) verifySetup(ctx context.Context, s *session, st *types.WorkflowState) error {
	if _, err := e.resourceSet(ctx, s); err != nil {
		return err
	}
	if !e.resolver.SourceExists() {
		return fmt.Errorf("kernel source checkout missing at %s", e.resolver.SourceDir())
	}
	return nil
}

// --- VersionSelect ---

func (e *Engine) runVersionSelect(ctx context.Context, s *session, st *types.WorkflowState) error {
	candidates, err := e.resolver.Candidates(ctx)
	if err != nil {
		return err
	}

	if e.cfg.KernelVersion != "" {
		for _, v := range candidates {
			if v == e.cfg.KernelVersion {
				st.KernelVersion = v
				e.logger.Info("Using configured kernel version", logger.WithField("version", v))
				return nil
			}
		}
		return fmt.Errorf("%w: configured version %s is not among the candidates",
			kernelsrc.ErrNoVersionsFound, e.cfg.KernelVersion)
	}

	options := make([]prompt.Option, len(candidates))
	for i, v := range candidates {
		options[i] = prompt.Option{ID: v, Label: v}
	}
	choice, err := e.chooser.Choose("Select a kernel version to build", options)
	if err != nil {
		return err
	}
	st.KernelVersion = choice.ID
	return nil
}

func (e *Engine) verifyVersionSelect(ctx context.Context, s *session, st *types.WorkflowState) error {
	if st.KernelVersion == "" {
		return fmt.Errorf("no kernel version recorded in state")
	}
	return nil
}

// --- PatchSelect ---

func (e *Engine) runPatchSelect(ctx context.Context, s *session, st *types.WorkflowState) error {
	_, err := e.currentPairing(ctx, s, st)
	return err
}

// verifyPatchSelect recomputes the pairing; it is derived fresh per
// resolution, never persisted.
func (e *Engine) verifyPatchSelect(ctx context.Context, s *session, st *types.WorkflowState) error {
	if err := e.verifyVersionSelect(ctx, s, st); err != nil {
		return err
	}
	_, err := e.currentPairing(ctx, s, st)
	return err
}

// --- SourcePrepare ---

func (e *Engine) runSourcePrepare(ctx context.Context, s *session, st *types.WorkflowState) error {
	pairing, err := e.currentPairing(ctx, s, st)
	if err != nil {
		return err
	}

	if err := e.resolver.Checkout(ctx, st.KernelVersion); err != nil {
		return err
	}

	head, err := e.resolver.HeadCommit(ctx)
	if err != nil {
		return err
	}
	if head != pairing.SourceCommit {
		return fmt.Errorf("checkout mismatch: HEAD %s, expected %s", head, pairing.SourceCommit)
	}

	// The build tool expects the patch next to the spec.
	dest := filepath.Join(e.resolver.SourceDir(), filepath.Base(pairing.PatchPath))
	return utils.CopyFile(pairing.PatchPath, dest, 0o644)
}

func (e *Engine) verifySourcePrepare(ctx context.Context, s *session, st *types.WorkflowState) error {
	pairing, err := e.currentPairing(ctx, s, st)
	if err != nil {
		return err
	}

	head, err := e.resolver.HeadCommit(ctx)
	if err != nil {
		return err
	}
	if head != pairing.SourceCommit {
		return fmt.Errorf("checkout is at %s, expected %s", head, pairing.SourceCommit)
	}

	if !utils.FileExists(filepath.Join(e.resolver.SourceDir(), filepath.Base(pairing.PatchPath))) {
		return fmt.Errorf("patch file missing from source tree")
	}
	return nil
}

// --- SpecMutate ---

func (e *Engine) runSpecMutate(ctx context.Context, s *session, st *types.WorkflowState) error {
	pairing, err := e.currentPairing(ctx, s, st)
	if err != nil {
		return err
	}
	return e.specMut.ApplyFile(e.specPath(), filepath.Base(pairing.PatchPath), e.cfg.BuildID)
}

func (e *Engine) verifySpecMutate(ctx context.Context, s *session, st *types.WorkflowState) error {
	if !utils.FileExists(e.specPath() + specfile.BackupSuffix) {
		return fmt.Errorf("pristine spec backup missing")
	}
	return nil
}

// --- ConfigMutate ---

func (e *Engine) runConfigMutate(ctx context.Context, s *session, st *types.WorkflowState) error {
	_, err := e.matrixMut.Apply(e.configRoot(), e.cfg.Architectures, e.cfg.EnablesArch)
	return err
}

func (e *Engine) verifyConfigMutate(ctx context.Context, s *session, st *types.WorkflowState) error {
	return e.matrixMut.Verify(e.configRoot(), e.cfg.Architectures)
}

// --- Build ---

func (e *Engine) runBuild(ctx context.Context, s *session, st *types.WorkflowState) error {
	start := time.Now()
	rpms, err := e.builder.Build(ctx)
	if err != nil {
		e.notify.BuildFailed(st.KernelVersion, err)
		return err
	}
	s.rpms = rpms
	e.notify.BuildSucceeded(st.KernelVersion, time.Since(start))
	return nil
}

func (e *Engine) verifyBuild(ctx context.Context, s *session, st *types.WorkflowState) error {
	rpms, err := e.builder.Packages()
	if err != nil {
		return err
	}
	if len(rpms) == 0 {
		return fmt.Errorf("no built packages found under %s", e.builder.OutputDir())
	}
	s.rpms = rpms
	return nil
}

// --- Install ---

func (e *Engine) runInstall(ctx context.Context, s *session, st *types.WorkflowState) error {
	if err := e.verifyBuild(ctx, s, st); err != nil {
		return err
	}

	err := e.installer.Install(ctx, s.rpms)
	if errors.Is(err, toolchain.ErrDependencyConflict) {
		// One automatic remediation, then a single retry. Failure of
		// the remediation itself is fatal.
		if rerr := e.installer.ForceRefreshDependencies(ctx); rerr != nil {
			return rerr
		}
		err = e.installer.Install(ctx, s.rpms)
	}
	if err != nil {
		return err
	}

	set, err := e.resourceSet(ctx, s)
	if err != nil {
		return err
	}
	return e.firmware.Install(set)
}

func (e *Engine) verifyInstall(ctx context.Context, s *session, st *types.WorkflowState) error {
	_, err := toolchain.FindKernelImage(e.bootDir, st.KernelVersion, e.cfg.BuildID)
	return err
}

// --- Sign ---

func (e *Engine) runSign(ctx context.Context, s *session, st *types.WorkflowState) error {
	if e.cfg.Signing.Policy == types.SigningPolicySkip {
		e.logger.Info("Signing disabled by policy, kernel stays unsigned")
		return nil
	}

	if st.EnrollmentPending {
		// We are on the far side of the enrollment reboot. Still not
		// enrolled means the firmware confirmation failed; that is
		// operator-correctable, not retryable.
		if err := e.trust.VerifyEnrolled(ctx); err != nil {
			return err
		}
		st.EnrollmentPending = false
		e.logger.Success("Firmware enrollment confirmed")
	}

	status, err := e.trust.Status(ctx)
	if err != nil {
		return err
	}

	outcome, err := e.trust.Resolve(ctx, status)
	if err != nil {
		return err
	}

	switch outcome {
	case mok.OutcomeSkipSigning:
		e.logger.Warn("Operator chose to skip signing, kernel stays unsigned")
		return nil

	case mok.OutcomeRebootRequired:
		st.EnrollmentPending = true
		if err := e.states.Save(st); err != nil {
			return err
		}
		e.notify.RebootRequired()
		return ErrEnrollmentPending
	}

	image, err := toolchain.FindKernelImage(e.bootDir, st.KernelVersion, e.cfg.BuildID)
	if err != nil {
		// An unsigned, bootable kernel is still a usable outcome.
		e.logger.Warn("Signing skipped, installed image not found",
			logger.WithField("error", err))
		return nil
	}

	if err := e.signer.Sign(ctx, image); err != nil {
		e.logger.Warn("Signing failed, kernel stays unsigned",
			logger.WithField("error", err))
		return nil
	}
	s.signed = true
	return nil
}

func (e *Engine) verifySign(ctx context.Context, s *session, st *types.WorkflowState) error {
	return nil
}

// --- Archive ---

func (e *Engine) runArchive(ctx context.Context, s *session, st *types.WorkflowState) error {
	if err := e.verifyBuild(ctx, s, st); err != nil {
		return err
	}

	dest := filepath.Join(e.cfg.ArchiveDir,
		fmt.Sprintf("%s-%s", st.KernelVersion, time.Now().Format("20060102-150405")))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	for _, rpm := range s.rpms {
		if err := utils.CopyFile(rpm, filepath.Join(dest, filepath.Base(rpm)), 0o644); err != nil {
			return err
		}
	}

	// Keep the mutated spec and its pristine backup for auditability.
	for _, path := range []string{e.specPath(), e.specPath() + specfile.BackupSuffix} {
		if utils.FileExists(path) {
			if err := utils.CopyFile(path, filepath.Join(dest, filepath.Base(path)), 0o644); err != nil {
				return err
			}
		}
	}

	e.logger.Success("Archived build outputs", logger.WithField("dir", dest))
	return nil
}

func (e *Engine) verifyArchive(ctx context.Context, s *session, st *types.WorkflowState) error {
	return nil
}
