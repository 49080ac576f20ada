package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	BaseDirName   = ".config/cmdserv"
	SocketName    = "cmdserv.sock"
	RegistryName  = "cmds_daemon_pid"
	AuditFileName = "audit.db"
	DefaultRunDir = "/tmp"
)

var Config *viper.Viper

var globalFlagsToConfigKey = map[string]string{
	"config-path": "config_path",
	"verbose":     "verbose",
}

// GetSocketPath returns the path of the Unix domain socket clients dial to
// submit a ClientDescriptor for admission onto the shared queue.
func GetSocketPath() string {
	return filepath.Join(Config.GetString("config_path"), SocketName)
}

// GetRegistrySegmentPath returns the path backing the DaemonRegistry's
// shared-memory-style segment: /dev/shm when available, a tmp-dir-backed
// file otherwise. An explicit registry_path config key overrides both,
// which tests use to avoid colliding with a real daemon's segment.
func GetRegistrySegmentPath() string {
	if p := Config.GetString("registry_path"); p != "" {
		return p
	}
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", RegistryName)
	}
	return filepath.Join(Config.GetString("run_dir"), RegistryName)
}

func GetRunDir() string {
	return Config.GetString("run_dir")
}

func GetPoolCapacity() int {
	return Config.GetInt("pool.capacity")
}

func GetAuditPath() string {
	return filepath.Join(Config.GetString("config_path"), AuditFileName)
}

func InitializeConfig(cmd *cobra.Command) ([]string, error) {
	Config = viper.New()

	flagHolder := cmd
	if cmd.Parent() != nil {
		flagHolder = cmd.Parent()
	}
	configPath, err := flagHolder.Flags().GetString("config-path")
	if err != nil {
		panic("Unable to determine config path")
	}
	Config.AddConfigPath(configPath)
	Config.Set("config_path", configPath)

	Config.SetConfigName("config")
	Config.SetConfigType("toml")

	Config.SetDefault("verbose", 0)
	Config.SetDefault("run_dir", DefaultRunDir)
	Config.SetDefault("pool.capacity", 10)

	Config.SetEnvPrefix("cmdserv")

	if err := Config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := os.MkdirAll(configPath, 0o755); err != nil {
				panic(err)
			}
			Config.SafeWriteConfig()
		} else {
			panic(err)
		}
	}

	Config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Config.AutomaticEnv()

	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			configKey, ok := globalFlagsToConfigKey[f.Name]
			if !ok {
				return
			}
			if !f.Changed && Config.IsSet(configKey) {
				cmd.Flags().Set(f.Name, fmt.Sprintf("%v", Config.Get(configKey)))
			} else {
				Config.Set(configKey, fmt.Sprintf("%v", f.Value))
			}
		})
	}

	return []string{}, nil
}
