package logger

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func SetupLogger(logLevel string, logJSON, logSource bool) {
	Init(&Config{
		Level:      LogLevel(logLevel),
		JSON:       logJSON,
		AddSource:  logSource,
		TimeFormat: "15:04:05",
	})
}

// GetLoggerConfig reads the logging flags from cmd, including persistent
// flags inherited from parent commands.
func GetLoggerConfig(cmd *cobra.Command) (string, bool, bool, error) {
	logLevel, err := flagValue(cmd, "log-level")
	if err != nil {
		return "", false, false, err
	}
	logJSON, err := boolFlag(cmd, "log-json")
	if err != nil {
		return "", false, false, err
	}
	logSource, err := boolFlag(cmd, "log-source")
	if err != nil {
		return "", false, false, err
	}
	return logLevel, logJSON, logSource, nil
}

func flagValue(cmd *cobra.Command, name string) (string, error) {
	f := cmd.Flag(name)
	if f == nil {
		return "", fmt.Errorf("failed to get %s flag: flag not defined", name)
	}
	return f.Value.String(), nil
}

func boolFlag(cmd *cobra.Command, name string) (bool, error) {
	raw, err := flagValue(cmd, name)
	if err != nil {
		return false, err
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("failed to get %s flag: %w", name, err)
	}
	return value, nil
}
