// Package config loads the bridge configuration file.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables prefixed with WASMBRIDGE_. A double underscore
// separates nesting levels:
//
//	WASMBRIDGE_ENGINE__METERING_LIMIT=5000000
//	WASMBRIDGE_LOG__LEVEL=debug
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/invopop/jsonschema"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/runtime"
)

const (
	// DefaultPath is where the CLI looks for a configuration file.
	DefaultPath = "~/.wasm-bridge/config.yaml"

	// EnvPrefix is the prefix of environment overrides.
	EnvPrefix = "WASMBRIDGE_"
)

// File is the configuration file format.
type File struct {
	Engine runtime.Config `koanf:"engine" json:"engine"`
	Log    Log            `koanf:"log" json:"log"`
	Store  Store          `koanf:"store" json:"store"`
}

type Log struct {
	Level       string `koanf:"level" json:"level" validate:"oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Development bool   `koanf:"development" json:"development"`
}

type Store struct {
	// Path of the badger module store directory.
	Path string `koanf:"path" json:"path" validate:"required"`
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() File {
	return File{
		Engine: runtime.DefaultConfig(),
		Log:    Log{Level: "info"},
		Store:  Store{Path: filepath.Join(homeDir(), ".wasm-bridge", "modules")},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the configuration. A missing file is not an error; an empty
// path skips the file layer.
func Load(path string) (*File, error) {
	k := koanf.New(".")

	if err := k.Load(newStructProvider(Default()), nil); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "load defaults")
	}

	if path != "" {
		path = expandHome(path)
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "load "+path)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "load environment")
	}

	var f File
	if err := k.UnmarshalWithConf("", &f, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &f,
			TagName:          "koanf",
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		},
	}); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode configuration")
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every section, the engine section included.
func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "configuration")
	}
	return nil
}

// Schema renders the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: true,
	}
	s := r.Reflect(&File{})
	s.Title = "wasm-bridge configuration"

	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return out, nil
}

// envKey maps WASMBRIDGE_ENGINE__METERING_LIMIT to engine.metering_limit.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// structProvider feeds a struct to koanf as its flattened koanf-tagged
// fields.
type structProvider struct {
	cfg any
}

func newStructProvider(cfg any) *structProvider {
	return &structProvider{cfg: cfg}
}

func (s *structProvider) Read() (map[string]any, error) {
	var out map[string]any
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &out,
		TagName: "koanf",
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(s.cfg); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *structProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("struct provider does not support ReadBytes")
}
