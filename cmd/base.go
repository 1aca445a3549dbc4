// Package cmd is the base package for the go-overlay executables.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/overlaydex/go-overlay/config"
	"github.com/overlaydex/go-overlay/config/presets"
)

var (
	// Version is the app's semantic version. Designed to be overwritten by make.
	Version string

	// Branch is the git branch used to build the App. Designed to be overwritten by make.
	Branch string

	// Commit is the git commit used to build the app. Designed to be overwritten by make.
	Commit string
)

// LoadConfig builds the node configuration. Values are applied in order:
// defaults or preset, config file, flags set on the command line.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	conf := config.DefaultConfig()
	if name, _ := flags.GetString("preset"); name != "" {
		preset, ok := presets.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown preset %q, options %v", name, presets.Options())
		}
		conf = preset
	}

	vip := viper.New()
	if path, _ := flags.GetString("config"); path != "" {
		if err := config.LoadConfig(path, vip); err != nil {
			return nil, err
		}
	}
	var bindErr error
	flags.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = vip.BindPFlag(key, f)
	})
	if bindErr != nil {
		return nil, fmt.Errorf("bind flags: %w", bindErr)
	}
	if err := config.Unmarshal(vip, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}
