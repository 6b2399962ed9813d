package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/compozy/codebook/pkg/config"
	"github.com/compozy/codebook/pkg/logger"
)

// SetupGlobalConfig loads the env file, configures logging and stores the
// merged configuration and logger in the command context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	if _, err := loadEnvFile(cmd); err != nil {
		return err
	}
	logLevel, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	logger.SetupLogger(logLevel, logJSON, logSource)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logger.ContextWithLogger(ctx, logger.GetDefault())
	cfgPath, err := flagString(cmd, "config")
	if err != nil {
		return err
	}
	flags := make(map[string]any)
	extractCLIFlags(cmd, flags)
	sources := []config.Source{config.NewCLIProvider(flags)}
	if cfgPath != "" {
		sources = append(sources, config.NewYAMLProvider(cfgPath))
	}
	cfg, err := config.Load(ctx, sources...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cmd.SetContext(config.ContextWithConfig(ctx, cfg))
	return nil
}

// extractCLIFlags copies explicitly set flags onto their dotted config paths.
func extractCLIFlags(cmd *cobra.Command, flags map[string]any) {
	flagDefs := []struct {
		flagName string
		key      string
	}{
		{"vector-provider", "vector.provider"},
		{"vector-url", "vector.url"},
		{"vector-path", "vector.path"},
	}
	for _, def := range flagDefs {
		f := cmd.Flag(def.flagName)
		if f == nil || !f.Changed {
			continue
		}
		flags[def.key] = f.Value.String()
	}
}

// flagString looks name up among local, persistent and inherited flags, so
// it also works on a root command that has not been executed yet.
func flagString(cmd *cobra.Command, name string) (string, error) {
	f := cmd.Flag(name)
	if f == nil {
		return "", fmt.Errorf("failed to get %s flag: flag not defined", name)
	}
	return f.Value.String(), nil
}

// loadEnvFile loads environment variables from a file inside the working directory.
func loadEnvFile(cmd *cobra.Command) (string, error) {
	envFile, err := flagString(cmd, "env-file")
	if err != nil {
		return "", err
	}
	if envFile == "" {
		return "", nil
	}
	pwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}
	if !filepath.IsAbs(envFile) {
		envFile = filepath.Join(pwd, envFile)
	}
	absPath, err := filepath.Abs(filepath.Clean(envFile))
	if err != nil {
		return "", fmt.Errorf("failed to resolve env file path: %w", err)
	}
	if !isPathWithinDirectory(absPath, pwd) {
		return "", fmt.Errorf("env file path '%s' is outside the project directory", envFile)
	}
	if err := config.LoadEnvFile(absPath); err != nil {
		return "", err
	}
	return absPath, nil
}

func isPathWithinDirectory(path, dir string) bool {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return false
	}
	if !strings.HasSuffix(absDir, string(filepath.Separator)) {
		absDir += string(filepath.Separator)
	}
	return strings.HasPrefix(absPath, absDir) || absPath == strings.TrimSuffix(absDir, string(filepath.Separator))
}
