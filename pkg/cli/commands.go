package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/config"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/mok"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/process"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/prompt"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/types"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/workflow"
)

func newRunCmd() *cobra.Command {
	var kernelVersion string
	var skipPhases []string
	var unsigned bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full kernel customization workflow",
		Long: `Run (or resume) the complete workflow: fetch resources, pick a kernel
version and patch, mutate the spec and config matrix, build, install,
sign and archive. The workflow resumes from its last checkpoint after
any interruption, including the MOK enrollment reboot.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(func(fc *config.FileConfig) {
				if kernelVersion != "" {
					fc.KernelVersion = kernelVersion
				}
				fc.SkipPhases = append(fc.SkipPhases, skipPhases...)
				if unsigned {
					fc.Signing.Policy = string(types.SigningPolicySkip)
				}
			})
			if err != nil {
				printError(err.Error())
				return err
			}
			return runWorkflow(cfg)
		},
	}

	cmd.Flags().StringVar(&kernelVersion, "kernel-version", "", "exact kernel version to build (default: choose interactively)")
	cmd.Flags().StringSliceVar(&skipPhases, "skip", nil, "phases to skip, re-verified instead of executed")
	cmd.Flags().BoolVar(&unsigned, "unsigned", false, "force an unsigned build (no MOK involvement)")

	return cmd
}

func runWorkflow(cfg types.WorkflowConfig) error {
	log := newLogger(cfg)
	pm := process.NewManager(log)
	ctx, stop := pm.WithInterrupt(context.Background())
	defer stop()

	engine := workflow.New(cfg, prompt.NewTerminalChooser(), log)
	artifact, err := engine.Run(ctx)

	if errors.Is(err, workflow.ErrEnrollmentPending) {
		printEnrollmentGuidance()
		return nil // controlled suspension, not an error
	}
	if err != nil {
		if pm.Interrupted() || errors.Is(err, context.Canceled) {
			return errInterrupted
		}
		printError(err.Error())
		return err
	}

	signedLabel := "unsigned"
	if artifact.Signed {
		signedLabel = "signed"
	}
	printSuccess(fmt.Sprintf("Kernel %s built and installed (%s, %d packages)",
		artifact.KernelVersion, signedLabel, len(artifact.PackagePaths)))
	return nil
}

func printEnrollmentGuidance() {
	printWarning("MOK enrollment is queued; a reboot is required to complete it.")
	printInfo("1. Reboot the machine.")
	printInfo("2. In the firmware MOK manager, choose \"Enroll MOK\" and enter the one-time password.")
	printInfo("3. Run \"soundsaga run\" again; the workflow resumes at the signing phase.")
}

func newSignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign",
		Short: "Set up kernel signing only",
		Long: `Resolve the trust-key state without running a build: generate or locate
the Machine Owner Key, enroll it into firmware trust storage and import
it into the signing keystore.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(nil)
			if err != nil {
				printError(err.Error())
				return err
			}

			log := newLogger(cfg)
			pm := process.NewManager(log)
			ctx, stop := pm.WithInterrupt(context.Background())
			defer stop()

			manager := mok.NewManager(cfg.Signing, prompt.NewTerminalChooser(), log)

			status, err := manager.Status(ctx)
			if err != nil {
				printError(err.Error())
				return err
			}

			outcome, err := manager.Resolve(ctx, status)
			if err != nil {
				if pm.Interrupted() {
					return errInterrupted
				}
				printError(err.Error())
				return err
			}

			switch outcome {
			case mok.OutcomeRebootRequired:
				printEnrollmentGuidance()
			case mok.OutcomeSkipSigning:
				printInfo("Signing skipped")
			default:
				printSuccess("Signing is fully configured")
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show workflow and trust-key status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(nil)
			if err != nil {
				printError(err.Error())
				return err
			}
			return runStatus(cfg)
		},
	}
}

func runStatus(cfg types.WorkflowConfig) error {
	log := newLogger(cfg)
	engine := workflow.New(cfg, prompt.NewTerminalChooser(), log)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	st, err := engine.States().Load()
	if err != nil {
		return err
	}
	if st == nil {
		fmt.Fprintln(w, "WORKFLOW\tno resumable state")
	} else {
		fmt.Fprintf(w, "WORKFLOW\trun %s\n", st.RunID)
		fmt.Fprintf(w, "  completed phase\t%s\n", color.GreenString(string(st.Phase)))
		if st.KernelVersion != "" {
			fmt.Fprintf(w, "  kernel version\t%s\n", st.KernelVersion)
		}
		if st.EnrollmentPending {
			fmt.Fprintf(w, "  enrollment\t%s\n", color.YellowString("pending reboot"))
		}
		fmt.Fprintf(w, "  checkpoint\t%s\n", st.Timestamp.Format("2006-01-02 15:04:05"))
	}

	status, err := engine.Trust().Status(context.Background())
	if err != nil {
		fmt.Fprintf(w, "TRUST KEY\tunknown (%v)\n", err)
	} else {
		label := status.String()
		if status == types.TrustStatusOK {
			label = color.GreenString(label)
		} else {
			label = color.YellowString(label)
		}
		fmt.Fprintf(w, "TRUST KEY\t%s (status %d)\n", label, int(status))
	}

	if set, err := engine.Cache().Verify(); err != nil {
		fmt.Fprintf(w, "RESOURCES\tnot ready (%v)\n", err)
	} else {
		fmt.Fprintf(w, "RESOURCES\t%d patches, %d firmware files, %d routing configs\n",
			len(set.Patches), len(set.FirmwareFiles), len(set.RoutingConfigs))
	}

	return nil
}

func newInstallFirmwareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install-firmware",
		Short: "Install amp firmware and routing configs only",
		Long:  `Fetch the artifact bundle and install the firmware blobs and UCM routing configs without building a kernel.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(nil)
			if err != nil {
				printError(err.Error())
				return err
			}

			log := newLogger(cfg)
			pm := process.NewManager(log)
			ctx, stop := pm.WithInterrupt(context.Background())
			defer stop()

			engine := workflow.New(cfg, prompt.NewTerminalChooser(), log)
			set, err := engine.Cache().Ensure(ctx)
			if err != nil {
				if pm.Interrupted() {
					return errInterrupted
				}
				printError(err.Error())
				return err
			}
			if err := engine.Firmware().Install(set); err != nil {
				printError(err.Error())
				return err
			}
			printSuccess("Firmware and routing configs installed")
			return nil
		},
	}
}

func newArchiveCmd() *cobra.Command {
	var abortOnly bool

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive built packages and clear workflow state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(nil)
			if err != nil {
				printError(err.Error())
				return err
			}

			log := newLogger(cfg)
			engine := workflow.New(cfg, prompt.NewTerminalChooser(), log)

			if abortOnly {
				if err := engine.Abort(); err != nil {
					printError(err.Error())
					return err
				}
				printSuccess("Workflow state cleared")
				return nil
			}

			if err := engine.ArchiveNow(context.Background()); err != nil {
				printError(err.Error())
				return err
			}
			printSuccess("Build outputs archived")
			return nil
		},
	}

	cmd.Flags().BoolVar(&abortOnly, "abort", false, "only clear workflow state, archive nothing")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of soundsaga",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("🔊 soundsaga v%s\n", version)
		},
	}
}
