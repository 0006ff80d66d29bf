// Package config handles workflow configuration loading and resolution
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/types"
)

// ErrConfigurationInvalid marks structural config errors the operator must fix
var ErrConfigurationInvalid = errors.New("configuration invalid")

// FileConfig mirrors the on-disk configuration file. Zero values are
// filled with defaults during Resolve.
type FileConfig struct {
	WorkDir             string   `json:"workDir" yaml:"workDir"`
	ResourceRepoURL     string   `json:"resourceRepoUrl" yaml:"resourceRepoUrl"`
	KernelRepoURL       string   `json:"kernelRepoUrl" yaml:"kernelRepoUrl"`
	KernelVersion       string   `json:"kernelVersion" yaml:"kernelVersion"`
	TagPrefix           string   `json:"tagPrefix" yaml:"tagPrefix"`
	VersionsPerSeries   int      `json:"versionsPerSeries" yaml:"versionsPerSeries"`
	SpecFileName        string   `json:"specFileName" yaml:"specFileName"`
	BuildID             string   `json:"buildId" yaml:"buildId"`
	Architectures       []string `json:"architectures" yaml:"architectures"`
	EnableArchitectures []string `json:"enableArchitectures" yaml:"enableArchitectures"`
	ManagedFlags        []string `json:"managedFlags" yaml:"managedFlags"`
	FlagState           string   `json:"flagState" yaml:"flagState"`
	ArchiveDir          string   `json:"archiveDir" yaml:"archiveDir"`
	SkipPhases          []string `json:"skipPhases" yaml:"skipPhases"`
	Notify              *bool    `json:"notify" yaml:"notify"`
	LogLevel            string   `json:"logLevel" yaml:"logLevel"`
	LogFile             string   `json:"logFile" yaml:"logFile"`

	Signing SigningFileConfig `json:"signing" yaml:"signing"`
}

// SigningFileConfig is the signing section of the configuration file
type SigningFileConfig struct {
	Policy       string `json:"policy" yaml:"policy"`
	KeyDir       string `json:"keyDir" yaml:"keyDir"`
	CommonName   string `json:"commonName" yaml:"commonName"`
	KeystoreDir  string `json:"keystoreDir" yaml:"keystoreDir"`
	CertNickname string `json:"certNickname" yaml:"certNickname"`
}

// Default managed flags: the CS35L56 smart-amp drivers the 16IAX10H
// audio patch depends on.
var defaultManagedFlags = []string{
	"CONFIG_SND_HDA_SCODEC_CS35L56_I2C",
	"CONFIG_SND_HDA_SCODEC_CS35L56_SPI",
	"CONFIG_SND_SOC_CS35L56_SDW",
	"CONFIG_SND_SOC_CS35L56_I2C",
	"CONFIG_SND_SOC_CS35L56_SPI",
}

var defaultArchitectures = []string{
	"x86_64", "i386", "arm64", "armv6hl", "armv7hl", "ppc64le", "riscv64", "s390x",
}

// Resolver loads and resolves workflow configuration
type Resolver struct{}

// NewResolver creates a configuration resolver
func NewResolver() *Resolver {
	return &Resolver{}
}

// LoadFile reads a config file, accepting JSON or YAML
func (r *Resolver) LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg FileConfig

	// Try JSON first
	if err := json.Unmarshal(data, &cfg); err == nil {
		return &cfg, nil
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: config file is neither valid JSON nor YAML: %v", ErrConfigurationInvalid, err)
	}
	return &cfg, nil
}

// Resolve validates the file config, applies defaults and returns the
// immutable WorkflowConfig every component receives.
func (r *Resolver) Resolve(fc FileConfig) (types.WorkflowConfig, error) {
	var zero types.WorkflowConfig

	if fc.ResourceRepoURL == "" {
		return zero, fmt.Errorf("%w: resourceRepoUrl is required", ErrConfigurationInvalid)
	}
	if fc.KernelRepoURL == "" {
		return zero, fmt.Errorf("%w: kernelRepoUrl is required", ErrConfigurationInvalid)
	}

	workDir := fc.WorkDir
	if workDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			workDir = ".soundsaga"
		} else {
			workDir = filepath.Join(home, ".soundsaga")
		}
	}

	cfg := types.WorkflowConfig{
		WorkDir:             workDir,
		ResourceRepoURL:     fc.ResourceRepoURL,
		KernelRepoURL:       fc.KernelRepoURL,
		KernelVersion:       fc.KernelVersion,
		TagPrefix:           defaultString(fc.TagPrefix, "v"),
		VersionsPerSeries:   fc.VersionsPerSeries,
		SpecFileName:        defaultString(fc.SpecFileName, "kernel-default.spec"),
		BuildID:             defaultString(fc.BuildID, ".audio"),
		Architectures:       fc.Architectures,
		EnableArchitectures: fc.EnableArchitectures,
		ManagedFlags:        fc.ManagedFlags,
		FlagState:           defaultString(fc.FlagState, "m"),
		ArchiveDir:          defaultString(fc.ArchiveDir, filepath.Join(workDir, "archive")),
		LogLevel:            defaultString(fc.LogLevel, "info"),
		LogFile:             fc.LogFile,
		Notify:              fc.Notify == nil || *fc.Notify,
	}

	if cfg.VersionsPerSeries == 0 {
		cfg.VersionsPerSeries = 3
	}
	if cfg.VersionsPerSeries < 1 {
		return zero, fmt.Errorf("%w: versionsPerSeries must be >= 1, got %d", ErrConfigurationInvalid, cfg.VersionsPerSeries)
	}

	if len(cfg.Architectures) == 0 {
		cfg.Architectures = append([]string(nil), defaultArchitectures...)
	}
	if len(cfg.EnableArchitectures) == 0 {
		cfg.EnableArchitectures = []string{"x86_64"}
	}
	for _, arch := range cfg.EnableArchitectures {
		if !contains(cfg.Architectures, arch) {
			return zero, fmt.Errorf("%w: enable architecture %q is not in the architecture set", ErrConfigurationInvalid, arch)
		}
	}

	if len(cfg.ManagedFlags) == 0 {
		cfg.ManagedFlags = append([]string(nil), defaultManagedFlags...)
	}
	for _, flag := range cfg.ManagedFlags {
		if !strings.HasPrefix(flag, "CONFIG_") {
			return zero, fmt.Errorf("%w: managed flag %q must start with CONFIG_", ErrConfigurationInvalid, flag)
		}
	}

	if cfg.FlagState != "m" && cfg.FlagState != "y" {
		return zero, fmt.Errorf("%w: flagState must be \"m\" or \"y\", got %q", ErrConfigurationInvalid, cfg.FlagState)
	}

	for _, raw := range fc.SkipPhases {
		phase, err := types.ParsePhase(raw)
		if err != nil {
			return zero, fmt.Errorf("%w: %v", ErrConfigurationInvalid, err)
		}
		cfg.SkipPhases = append(cfg.SkipPhases, phase)
	}

	signing, err := r.resolveSigning(fc.Signing, workDir)
	if err != nil {
		return zero, err
	}
	cfg.Signing = signing

	return cfg, nil
}

func (r *Resolver) resolveSigning(fc SigningFileConfig, workDir string) (types.SigningConfig, error) {
	policy := types.SigningPolicy(defaultString(fc.Policy, string(types.SigningPolicySign)))
	if policy != types.SigningPolicySign && policy != types.SigningPolicySkip {
		return types.SigningConfig{}, fmt.Errorf("%w: signing policy must be %q or %q, got %q",
			ErrConfigurationInvalid, types.SigningPolicySign, types.SigningPolicySkip, fc.Policy)
	}

	return types.SigningConfig{
		Policy:       policy,
		KeyDir:       defaultString(fc.KeyDir, filepath.Join(workDir, "mok")),
		CommonName:   defaultString(fc.CommonName, "16IAX10H Sound Saga MOK"),
		KeystoreDir:  defaultString(fc.KeystoreDir, "/etc/pki/pesign"),
		CertNickname: defaultString(fc.CertNickname, "soundsaga-mok"),
	}, nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
