package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=...".
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// GlobalFlags contains global flags available for all commands
type GlobalFlags struct {
	Config  string
	DBPath  string
	Verbose bool
	JSON    bool
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "luthier",
	Short: "Luthier - testimonials backend with Google review sync",
	Long: `Luthier serves the testimonials shown on the workshop site and imports
Google Business Profile reviews as testimonials.

Usage:
  luthier [command] [flags]

Available Commands:
  serve         Start the HTTP server (main mode)
  google        Connect, sync and inspect the Google integration
  testimonials  List stored testimonials
  check         Check database, configuration and integration state
  version       Print version information

Use "luthier [command] --help" for more information about a command.`,
	SilenceUsage: true,
}

// InitRoot initializes the root command with global flags
func InitRoot() {
	dbPath := os.Getenv("LUTHIER_DB_PATH")

	RootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", "", "Path to configuration file (default $LUTHIER_CONFIG_PATH or config.yaml)")
	RootCmd.PersistentFlags().StringVar(&globalFlags.DBPath, "db", dbPath, "Path to SQLite database (overrides server.db_path)")
	RootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose output")
	RootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format")

	RootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of Luthier",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printVersion(cmd.OutOrStdout())
	},
}

var globalFlags GlobalFlags

// GetGlobalFlags returns the global flags
func GetGlobalFlags() GlobalFlags {
	return globalFlags
}

func printVersion(w io.Writer) error {
	info := GetVersionInfo()
	if globalFlags.JSON {
		return writeJSON(w, info)
	}
	fmt.Fprintln(w, "Luthier Version:", info.Version)
	fmt.Fprintln(w, "Go Version:", info.GoVersion)
	fmt.Fprintln(w, "OS/Arch:", info.OS+"/"+info.Arch)
	fmt.Fprintln(w, "Build Date:", info.BuildDate)
	return nil
}

// VersionInfo contains version information
type VersionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	BuildDate string `json:"build_date"`
}

// GetVersionInfo returns version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		BuildDate: BuildDate,
	}
}
