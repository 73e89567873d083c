package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "fluorosim",
		Short: "FluoroSim - fluoroscopy simulator for procedural training",
		Long: `FluoroSim turns a webcam pointed at a training phantom into a simulated
fluoroscopy display. Frames are captured, processed on a worker pool and shown
strictly in capture order.

Features:
  • Background subtraction, skeleton overlay and histogram equalization
  • Foot-pedal gated capture (serial pedal, keyboard or web UI)
  • Bounded in-flight frames with in-order delivery
  • X11 display window and MJPEG web viewer
  • Live latency and frame-interval telemetry
  • Persistent YAML configuration`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/fluorosim/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	bindEnv(viper.GetViper())
}

// bindEnv maps FLUOROSIM_SOURCE_SPEC and friends onto dotted keys
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("fluorosim")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
