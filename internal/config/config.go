package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/smazurov/memscaler/internal/logging"
)

// EnvPrefix is prepended to every env tag.
const EnvPrefix = "MEMSCALER_"

var durationType = reflect.TypeOf(time.Duration(0))

// LoadConfig fills the exported fields of the struct opts points to.
// Precedence, highest first: flags set on cmd, MEMSCALER_<env> variables, the
// TOML file named by the Config field, then whatever opts already holds
// (the flag defaults). A missing file is not an error. Values that do not fit
// their field are skipped and reported together in the returned error.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	cliSet := make(map[string]bool)
	if cmd != nil {
		cmd.Flags().Visit(func(f *pflag.Flag) {
			cliSet[f.Name] = true
		})
	}

	file, err := readConfigFile(v)
	if err != nil {
		return err
	}

	var errs []error
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() || cliSet[fieldNameToFlag(sf.Name)] {
			continue
		}
		field := v.Field(i)

		if path := sf.Tag.Get("toml"); path != "" && file != nil {
			if raw := getNestedValue(file, path); raw != nil {
				if err := assign(field, raw); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
				}
			}
		}
		if key := sf.Tag.Get("env"); key != "" {
			if raw, ok := os.LookupEnv(EnvPrefix + key); ok && raw != "" {
				if err := assign(field, raw); err != nil {
					errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// readConfigFile parses the file named by the Config field, if any.
func readConfigFile(v reflect.Value) (map[string]any, error) {
	pathField := v.FieldByName("Config")
	if !pathField.IsValid() || pathField.Kind() != reflect.String || pathField.String() == "" {
		return nil, nil
	}
	data, err := os.ReadFile(pathField.String())
	if err != nil {
		return nil, nil
	}
	var file map[string]any
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config %s: %w", pathField.String(), err)
	}
	return file, nil
}

// fieldNameToFlag converts a struct field name to its humacli flag name.
// Example: "LoggingLevel" -> "logging-level", "Port" -> "port".
func fieldNameToFlag(fieldName string) string {
	var sb strings.Builder
	for i, r := range fieldName {
		if i > 0 && unicode.IsUpper(r) {
			sb.WriteByte('-')
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}

// getNestedValue looks up a dotted path such as "metrics.interval".
func getNestedValue(data map[string]any, path string) any {
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		table, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = table[part]
	}
	return cur
}

// assign stores raw in field. raw is either a decoded TOML value or an env
// string; strings are parsed into the field's type. Durations accept Go
// duration strings, and bare TOML integers are taken as milliseconds. On
// error the field is left unchanged.
func assign(field reflect.Value, raw any) error {
	if !field.CanSet() {
		return nil
	}

	if field.Type() == durationType {
		switch val := raw.(type) {
		case string:
			d, err := time.ParseDuration(val)
			if err != nil {
				return fmt.Errorf("invalid duration %q", val)
			}
			field.SetInt(int64(d))
		case int64:
			field.SetInt(int64(time.Duration(val) * time.Millisecond))
		default:
			return fmt.Errorf("cannot use %T as a duration", raw)
		}
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("cannot use %T as a string", raw)
		}
		field.SetString(s)

	case reflect.Bool:
		switch val := raw.(type) {
		case bool:
			field.SetBool(val)
		case string:
			b, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("invalid bool %q", val)
			}
			field.SetBool(b)
		default:
			return fmt.Errorf("cannot use %T as a bool", raw)
		}

	case reflect.Int, reflect.Int32, reflect.Int64:
		switch val := raw.(type) {
		case int64:
			field.SetInt(val)
		case string:
			n, err := strconv.ParseInt(val, 10, field.Type().Bits())
			if err != nil {
				return fmt.Errorf("invalid integer %q", val)
			}
			field.SetInt(n)
		default:
			return fmt.Errorf("cannot use %T as an integer", raw)
		}

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", field.Type().Elem())
		}
		var items []string
		switch val := raw.(type) {
		case []any:
			for _, item := range val {
				s, ok := item.(string)
				if !ok {
					return fmt.Errorf("cannot use %T as a list item", item)
				}
				items = append(items, s)
			}
		case string:
			// Env lists are comma-separated
			for _, part := range strings.Split(val, ",") {
				items = append(items, strings.TrimSpace(part))
			}
		default:
			return fmt.Errorf("cannot use %T as a list", raw)
		}
		field.Set(reflect.ValueOf(items))

	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// LoadLoggingConfig loads logging configuration from a TOML config file.
// Returns default config if file doesn't exist or can't be parsed.
func LoadLoggingConfig(configPath string) logging.Config {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}

	if configPath == "" {
		return cfg
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg
	}

	var rawConfig struct {
		Logging map[string]any `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &rawConfig); err != nil {
		return cfg
	}

	// Module levels may sit directly under [logging] or in [logging.modules].
	for key, value := range rawConfig.Logging {
		switch v := value.(type) {
		case string:
			switch key {
			case "level":
				cfg.Level = v
			case "format":
				cfg.Format = v
			default:
				cfg.Modules[key] = v
			}
		case map[string]any:
			if key != "modules" {
				continue
			}
			for module, level := range v {
				if ls, ok := level.(string); ok {
					cfg.Modules[module] = ls
				}
			}
		}
	}

	return cfg
}
