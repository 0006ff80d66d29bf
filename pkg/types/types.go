// Package types provides core types shared across the sound-saga workflow
package types

import (
	"fmt"
	"time"
)

// Phase represents one checkpointed step of the workflow
type Phase string

const (
	PhaseSetup         Phase = "setup"
	PhaseVersionSelect Phase = "version-select"
	PhasePatchSelect   Phase = "patch-select"
	PhaseSourcePrepare Phase = "source-prepare"
	PhaseSpecMutate    Phase = "spec-mutate"
	PhaseConfigMutate  Phase = "config-mutate"
	PhaseBuild         Phase = "build"
	PhaseInstall       Phase = "install"
	PhaseSign          Phase = "sign"
	PhaseArchive       Phase = "archive"
)

// PhaseOrder is the fixed total order the workflow engine drives.
var PhaseOrder = []Phase{
	PhaseSetup,
	PhaseVersionSelect,
	PhasePatchSelect,
	PhaseSourcePrepare,
	PhaseSpecMutate,
	PhaseConfigMutate,
	PhaseBuild,
	PhaseInstall,
	PhaseSign,
	PhaseArchive,
}

// Index returns the position of the phase in PhaseOrder, or -1 if unknown
func (p Phase) Index() int {
	for i, q := range PhaseOrder {
		if p == q {
			return i
		}
	}
	return -1
}

// Valid reports whether the phase is one of the known workflow phases
func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// Next returns the phase following p in the total order.
// The second return is false when p is the final phase.
func (p Phase) Next() (Phase, bool) {
	i := p.Index()
	if i < 0 || i+1 >= len(PhaseOrder) {
		return "", false
	}
	return PhaseOrder[i+1], true
}

// ParsePhase converts a string to a Phase
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase: %q", s)
	}
	return p, nil
}

// SigningPolicy controls whether the built kernel image is signed
type SigningPolicy string

const (
	SigningPolicySign SigningPolicy = "sign"
	SigningPolicySkip SigningPolicy = "skip"
)

// WorkflowConfig is the immutable resolved configuration. It is constructed
// once by the config resolver and passed by value through every component.
type WorkflowConfig struct {
	// WorkDir roots all workflow-owned paths (state, logs, checkouts, rpms).
	WorkDir string

	// ResourceRepoURL is the git repository carrying the artifact bundle
	// (kernel patches, amp firmware, UCM routing configs).
	ResourceRepoURL string

	// KernelRepoURL is the distribution kernel-source git repository.
	KernelRepoURL string

	// KernelVersion pins an exact version; empty means the operator picks
	// from the resolved candidates.
	KernelVersion string

	// TagPrefix prefixes version tags in the kernel repo, e.g. "v".
	TagPrefix string

	// VersionsPerSeries bounds how many full versions are kept per
	// major.minor series when enumerating candidates.
	VersionsPerSeries int

	// SpecFileName is the build spec inside the kernel checkout.
	SpecFileName string

	// BuildID is the build-identifier suffix stamped into the spec.
	BuildID string

	// Architectures are all config matrix targets; EnableArchitectures is
	// the subset that gets the managed flags enabled.
	Architectures       []string
	EnableArchitectures []string

	// ManagedFlags are the kernel config options owned by this tool.
	ManagedFlags []string

	// FlagState is the value written for enabled flags ("m" or "y").
	FlagState string

	Signing SigningConfig

	// ArchiveDir receives built packages on the final phase.
	ArchiveDir string

	// SkipPhases lists phases re-verified instead of executed.
	SkipPhases []Phase

	Notify   bool
	LogLevel string
	LogFile  string
}

// SigningConfig holds the trust-key material locations and policy
type SigningConfig struct {
	Policy SigningPolicy

	// KeyDir holds MOK.priv, MOK.der and MOK.pem.
	KeyDir string

	// CommonName is the certificate subject CN.
	CommonName string

	// KeystoreDir is the NSS database consulted by the signing utility.
	KeystoreDir string

	// CertNickname identifies the certificate inside the keystore.
	CertNickname string
}

// SkipsPhase reports whether the phase is in the skip set
func (c WorkflowConfig) SkipsPhase(p Phase) bool {
	for _, s := range c.SkipPhases {
		if s == p {
			return true
		}
	}
	return false
}

// EnablesArch reports whether the architecture is in the enable set
func (c WorkflowConfig) EnablesArch(arch string) bool {
	for _, a := range c.EnableArchitectures {
		if a == arch {
			return true
		}
	}
	return false
}

// WorkflowState is the only entity that survives a process restart or
// reboot. It is persisted at phase boundaries and destroyed on success.
type WorkflowState struct {
	Version           int       `json:"version"`
	RunID             string    `json:"runId"`
	Phase             Phase     `json:"phase"`
	KernelVersion     string    `json:"kernelVersion,omitempty"`
	EnrollmentPending bool      `json:"enrollmentPending,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// VersionPatchPairing pairs a kernel version with the most specific
// compatible patch artifact. Immutable once returned by the resolver.
type VersionPatchPairing struct {
	KernelVersion string
	SourceCommit  string
	PatchPath     string
}

// OptionState is the declared form of a managed config option
type OptionState string

const (
	OptionEnabled  OptionState = "enabled"
	OptionDisabled OptionState = "disabled"
)

// ConfigMatrixEntry records one managed option declaration in one
// architecture config file after mutation.
type ConfigMatrixEntry struct {
	Architecture string
	OptionName   string
	State        OptionState
}

// TrustStatus encodes the trust-key state machine as a 3-bit mask
type TrustStatus int

const (
	// TrustKeyFilesMissing is set when the key pair does not exist on disk.
	TrustKeyFilesMissing TrustStatus = 1 << iota
	// TrustNotEnrolled is set when the certificate is not in firmware trust storage.
	TrustNotEnrolled
	// TrustKeystoreUnconfigured is set when the signing keystore lacks the
	// certificate or the private key.
	TrustKeystoreUnconfigured
)

// TrustStatusOK means key files exist, the cert is enrolled and the
// keystore holds both cert and private key.
const TrustStatusOK TrustStatus = 0

// TrustStatusFromFacts folds the four observed booleans into the bitmask.
// A missing keystore cert or key both map to the unconfigured bit.
func TrustStatusFromFacts(filesExist, enrolled, keystoreCert, keystoreKey bool) TrustStatus {
	var s TrustStatus
	if !filesExist {
		s |= TrustKeyFilesMissing
	}
	if !enrolled {
		s |= TrustNotEnrolled
	}
	if !keystoreCert || !keystoreKey {
		s |= TrustKeystoreUnconfigured
	}
	return s
}

// Has reports whether the given bit is set
func (s TrustStatus) Has(bit TrustStatus) bool {
	return s&bit != 0
}

// String renders the status for operator-facing output
func (s TrustStatus) String() string {
	if s == TrustStatusOK {
		return "ready"
	}
	out := ""
	if s.Has(TrustKeyFilesMissing) {
		out += "key-files-missing "
	}
	if s.Has(TrustNotEnrolled) {
		out += "not-enrolled "
	}
	if s.Has(TrustKeystoreUnconfigured) {
		out += "keystore-unconfigured "
	}
	return out[:len(out)-1]
}

// BuildArtifact describes the outcome of a completed workflow run
type BuildArtifact struct {
	KernelVersion string
	PackagePaths  []string
	Signed        bool
}
