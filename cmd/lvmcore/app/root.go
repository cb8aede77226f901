// Package app wires the lvmcore CLI: one cobra subcommand per spec §6 entry
// point, sharing a small persistent flag set (metadata area paths, lock
// daemon socket, log level) the way the teacher's topolvm-controller and
// topolvm-node root commands share config across their subcommands.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sailfishos-mirror/lvm2-sub002/internal/logging"
)

const configName = "lvmcore-config"

var config struct {
	areaSize    uint64
	lockSocket  string
	lockType    string
	development bool
	configFile  string
}

var rootCmd = &cobra.Command{
	Use:   "lvmcore",
	Short: "LVM metadata engine core",
	Long: `lvmcore drives the metadata engine directly: vg_create, vg_extend,
vg_reduce, vg_remove, vg_rename, lv_create, lv_remove, lv_rename, lv_resize,
lv_convert, and scan, each as its own subcommand.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	fs := rootCmd.PersistentFlags()
	fs.Uint64Var(&config.areaSize, "area-size", 1<<20, "metadata text capacity per area, in bytes")
	fs.StringVar(&config.lockSocket, "lock-socket", "/run/lvm/lvmlockd.socket", "lvmlockd control socket path")
	fs.StringVar(&config.lockType, "lock-type", "none", "lock_type to use: none, dlm, sanlock, idm")
	fs.BoolVar(&config.development, "development-logging", false, "use human-readable development logging instead of JSON")
	fs.StringVar(&config.configFile, configName, fmt.Sprintf("%s.yaml", configName), "config file name; the value is not read: lvmcore-config.yaml is searched in /etc/lvm and the working directory")

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return loadConfigFileIntoFlagSet(fs)
	}

	addVGCommands(rootCmd)
	addLVCommands(rootCmd)
	addScanCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(5)
	}
}

func loadConfigFileIntoFlagSet(fs *pflag.FlagSet) error {
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == configName {
			return
		}
		_ = viper.BindPFlag(f.Name, f)
	})
	viper.AddConfigPath("/etc/lvm")
	viper.AddConfigPath(".")
	viper.SetConfigName("lvmcore-config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !isConfigFileNotFoundError(err, &notFound) {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	}
	return nil
}

func isConfigFileNotFoundError(err error, target *viper.ConfigFileNotFoundError) bool {
	t, ok := err.(viper.ConfigFileNotFoundError)
	if ok {
		*target = t
	}
	return ok
}

func rootContext() context.Context {
	log, err := logging.New("lvmcore", config.development)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(5)
	}
	return logging.IntoContext(context.Background(), log)
}
