// Package presets holds named configurations that overwrite the defaults.
package presets

import (
	"fmt"
	"sort"

	"github.com/overlaydex/go-overlay/config"
)

var presets = map[string]config.Config{}

func register(name string, preset config.Config) {
	if _, exist := presets[name]; exist {
		panic(fmt.Sprintf("preset with name %s already exists", name))
	}
	presets[name] = preset
}

// Options returns the names of registered presets.
func Options() []string {
	rst := make([]string, 0, len(presets))
	for name := range presets {
		rst = append(rst, name)
	}
	sort.Strings(rst)
	return rst
}

// Get a preset by name. Returns false if preset is not registered.
func Get(name string) (config.Config, bool) {
	preset, exist := presets[name]
	return preset, exist
}
