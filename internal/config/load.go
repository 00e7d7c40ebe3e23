// Package config loads configuration from files, env vars, and flags, and validates it.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"syscall"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// EnvPrefix prefixes every environment variable, e.g. QCANVAS_DATABASE_DSN.
const EnvPrefix = "QCANVAS"

// Load parses args into fs and layers configuration, highest first:
//  1. secrets read from files or the terminal
//  2. flags given on the command line
//  3. QCANVAS_* environment variables
//  4. the config file
//  5. defaults
//
// Callers may register extra flags on fs (such as --version) before calling Load.
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	DefineFlags(fs)
	if !fs.Parsed() {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	setDefaults(v)
	if err := readConfigFile(v, fs); err != nil {
		return nil, err
	}

	// Keys are dotted snake_case; env vars use underscores throughout.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	bindChangedFlags(v, fs)

	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}
	if err := resolveSecrets(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// readConfigFile reads --config when given. Otherwise it looks for
// querycanvas.yaml in the usual places and carries on without one.
func readConfigFile(v *viper.Viper, fs *pflag.FlagSet) error {
	path, _ := fs.GetString("config")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("querycanvas")
	v.SetConfigType("yaml")
	for _, dir := range []string{"/etc/querycanvas/", "$HOME/.querycanvas", "."} {
		v.AddConfigPath(dir)
	}
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// secretSource fills key from the file named by fileKey when key is unset.
type secretSource struct {
	key, fileKey string
	what         string
	required     bool
}

var secretSources = []secretSource{
	{key: "database.dsn", fileKey: "database.dsn_file", what: "database DSN"},
	{key: "database.password", fileKey: "database.password_file", what: "database password"},
	{key: "server.admin.auth_token", fileKey: "server.admin.auth_token_file", what: "admin auth token", required: true},
}

// resolveSecrets reads file-backed secrets, then prompts for the database
// password when asked to and nothing else supplied one.
func resolveSecrets(v *viper.Viper) error {
	for _, src := range secretSources {
		path := v.GetString(src.fileKey)
		if v.GetString(src.key) != "" || path == "" {
			continue
		}
		value, err := readSecretFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s file: %w", src.what, err)
		}
		if value == "" && src.required {
			return fmt.Errorf("%s file %q is empty", src.what, path)
		}
		v.Set(src.key, value)
	}

	if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}
	return nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToStringSliceHookFunc(","),
	)
}

// promptPassword reads the database password from the terminal without
// echoing it.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Database password: ")
	defer fmt.Fprintln(os.Stderr)
	secret, err := term.ReadPassword(int(syscall.Stdin))
	return string(secret), err
}

// readSecretFile reads a trimmed secret from path, or from stdin for "@-".
func readSecretFile(path string) (string, error) {
	read := func() ([]byte, error) { return os.ReadFile(path) }
	if path == "@-" {
		read = func() ([]byte, error) { return io.ReadAll(os.Stdin) }
	}
	data, err := read()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// validateSingleStdinFileSource rejects configurations where more than one
// secret would be read from stdin.
func validateSingleStdinFileSource(v *viper.Viper) error {
	var fromStdin []string
	for _, src := range secretSources {
		if strings.TrimSpace(v.GetString(src.fileKey)) == "@-" {
			fromStdin = append(fromStdin, src.fileKey)
		}
	}
	if len(fromStdin) < 2 {
		return nil
	}
	return fmt.Errorf("multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
		strings.Join(fromStdin, ", "))
}

// stringToStringSliceHookFunc splits comma lists from env vars and trims
// each item. An empty string decodes to an empty slice.
func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf([]string{})
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != target {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, sep)
		for i, part := range parts {
			parts[i] = strings.TrimSpace(part)
		}
		return parts, nil
	}
}
