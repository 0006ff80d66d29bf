// Package cli provides the command-line interface for soundsaga
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/config"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/process"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/types"
)

var (
	cfgFile   string
	workDir   string
	verbosity string
	version   string
)

// errInterrupted marks an operator cancel so Execute can map it to the
// dedicated exit code instead of a failure.
var errInterrupted = errors.New("interrupted by operator")

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "soundsaga",
	Short: "Rebuild and trust-enroll the 16IAX10H audio-enabled kernel",
	Long: `🔊 soundsaga - kernel customization workflow for the Lenovo 16IAX10H

soundsaga patches the distribution kernel with the out-of-tree audio
enablement patch, rebuilds and installs it, and enrolls a Machine Owner
Key so the result boots under Secure Boot. The workflow is checkpointed:
it survives interrupts and the enrollment reboot, resuming where it
left off.`,

	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("🔊 soundsaga v%s\n", version)
			return
		}
		cmd.Help()
	},
}

// Execute runs the CLI and returns the process exit code:
// 0 success (including a controlled enrollment suspension),
// 1 fatal error, 130 operator cancel.
func Execute(v string) int {
	version = v
	initializeRootCommand()

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errInterrupted) {
			printWarning("Cancelled")
			return process.InterruptExitCode
		}
		return 1
	}
	return 0
}

// initializeRootCommand sets up the root command and its flags.
// Explicit instead of init() so tests can re-run it.
func initializeRootCommand() {
	cobra.OnInitialize(initViper)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: soundsaga.config.json)")
	rootCmd.PersistentFlags().StringVar(&workDir, "work-dir", "", "work directory override")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")

	rootCmd.Flags().Bool("version", false, "Print version information and quit")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newSignCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newInstallFirmwareCmd())
	rootCmd.AddCommand(newArchiveCmd())
	rootCmd.AddCommand(newVersionCmd())

	// Errors are printed by the commands with context already.
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

func initViper() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("soundsaga.config")
		viper.SetConfigType("json")
	}

	viper.SetEnvPrefix("SOUNDSAGA")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbosity == "debug" {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	}
}

// resolveConfig loads the config file and applies CLI overrides
func resolveConfig(overrides func(*config.FileConfig)) (types.WorkflowConfig, error) {
	resolver := config.NewResolver()

	var fc config.FileConfig
	path := getConfigPath()
	if path != "" {
		loaded, err := resolver.LoadFile(path)
		if err != nil {
			return types.WorkflowConfig{}, err
		}
		fc = *loaded
	}

	if workDir != "" {
		fc.WorkDir = workDir
	}
	if fc.LogLevel == "" {
		fc.LogLevel = verbosity
	}
	if overrides != nil {
		overrides(&fc)
	}

	return resolver.Resolve(fc)
}

func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	if _, err := os.Stat("soundsaga.config.json"); err == nil {
		return "soundsaga.config.json"
	}
	return ""
}

func newLogger(cfg types.WorkflowConfig) logger.Logger {
	return logger.CreateLogger(cfg.LogFile, cfg.LogLevel)
}

// Helper functions

func printSuccess(message string) {
	fmt.Printf("🔊 %s %s\n", color.GreenString("[soundsaga]"), message)
}

func printError(message string) {
	fmt.Fprintf(os.Stderr, "🔊 %s %s\n", color.RedString("[soundsaga]"), message)
}

func printInfo(message string) {
	fmt.Printf("🔊 %s %s\n", color.CyanString("[soundsaga]"), message)
}

func printWarning(message string) {
	fmt.Printf("🔊 %s %s\n", color.YellowString("[soundsaga]"), message)
}
