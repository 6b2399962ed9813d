package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const (
	OutputFormatJSON = "json"
	OutputFormatText = "text"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB347"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
)

func isRunningInCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "BUILDKITE", "JENKINS_URL"} {
		if os.Getenv(v) != "" {
			return true
		}
	}
	return false
}

func isInteractiveEnvironment() bool {
	if isRunningInCI() || os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := os.Stdout.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return false
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// DetectOutputFormat honors --output and otherwise picks text for terminals.
func DetectOutputFormat(cmd *cobra.Command) string {
	if format, err := flagString(cmd, "output"); err == nil {
		switch format {
		case OutputFormatJSON, OutputFormatText:
			return format
		}
	}
	if isInteractiveEnvironment() {
		return OutputFormatText
	}
	return OutputFormatJSON
}

// render writes v as JSON or hands the writer to text.
func render(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if DetectOutputFormat(cmd) == OutputFormatText && text != nil {
		text(w)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func field(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "%s %v\n", labelStyle.Render(label+":"), value)
}

// FormatError renders an error for the terminal.
func FormatError(err error) string {
	return errorStyle.Render("✗ " + err.Error())
}
