package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/gridsync/internal/syncclient"
	"github.com/marcus/gridsync/internal/syncconfig"
)

var (
	versionStr string

	flagURL     string
	flagToken   string
	flagDataset string
)

// SetVersion sets the version string
func SetVersion(v string) {
	versionStr = v
}

var rootCmd = &cobra.Command{
	Use:   "gridsync",
	Short: "Browse and edit remote datasets through a synchronized viewport",
	Long: `gridsync - a client for gridsync servers.

The server keeps only the rows around your viewport synchronized: scrolling
asks for the rows you are about to see, and edits made by anyone show up live
while they are on screen.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		reportError(err)
		os.Exit(1)
	}
}

// nameWithAliases returns "name, alias1, alias2" if aliases exist, else just "name"
func nameWithAliases(cmd *cobra.Command) string {
	if len(cmd.Aliases) > 0 {
		return cmd.Name() + ", " + strings.Join(cmd.Aliases, ", ")
	}
	return cmd.Name()
}

func init() {
	// Add custom template function for showing aliases
	cobra.AddTemplateFunc("nameWithAliases", nameWithAliases)

	// Custom usage template that shows aliases inline
	usageTemplate := `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional Commands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`

	// Need to add the 'add' function for padding calculation
	cobra.AddTemplateFunc("add", func(a, b int) int { return a + b })

	rootCmd.SetUsageTemplate(usageTemplate)

	rootCmd.PersistentFlags().StringVar(&flagURL, "url", "", "Server URL (default from GRIDSYNC_URL or config)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "Bearer token (default from GRIDSYNC_TOKEN or config)")
	rootCmd.PersistentFlags().StringVarP(&flagDataset, "dataset", "d", "", "Dataset to operate on (default from GRIDSYNC_DATASET or config)")

	// Define command groups for organized help output
	rootCmd.AddGroup(
		&cobra.Group{ID: "view", Title: "View Commands:"},
		&cobra.Group{ID: "data", Title: "Data Commands:"},
		&cobra.Group{ID: "schema", Title: "Schema Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)

	// Assign built-in commands to system group
	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")
}

// newClient builds a client from flags, falling back to env and config.
func newClient() *syncclient.Client {
	url := flagURL
	if url == "" {
		url = syncconfig.GetServerURL()
	}
	token := flagToken
	if token == "" {
		token = syncconfig.GetToken()
	}
	return syncclient.New(strings.TrimRight(url, "/"), token)
}

// datasetName resolves the dataset from the flag, falling back to env and config.
func datasetName() (string, error) {
	if flagDataset != "" {
		return flagDataset, nil
	}
	if ds := syncconfig.GetDataset(); ds != "" {
		return ds, nil
	}
	return "", errNoDataset
}
