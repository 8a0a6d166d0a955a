package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/gridsync/internal/output"
	"github.com/marcus/gridsync/internal/syncclient"
)

var datasetsCmd = &cobra.Command{
	Use:     "datasets",
	Aliases: []string{"ds"},
	Short:   "List datasets on the server",
	GroupID: "data",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := newClient().ListDatasets()
		if err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No datasets")
			return nil
		}
		for _, ds := range list {
			fmt.Println(output.FormatDataset(ds))
		}
		return nil
	},
}

var datasetsCreateCmd = &cobra.Command{
	Use:   "create NAME [FIELD[:KIND[:TRANSFORM]]...]",
	Short: "Create a dataset",
	Long: `Create an empty dataset with the given fields.

Kinds: text, number, bool, time (omit for untyped).
Transforms: bytes, comma, ordinal, relative_time, rfc3339, date, string.`,
	Example: `  gridsync datasets create tasks title:text size:number:bytes due:time:relative_time`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFieldSpecs(args[1:])
		if err != nil {
			return err
		}
		ds, err := newClient().CreateDataset(args[0], fields)
		if err != nil {
			return err
		}
		output.Success("Created %s", ds.Name)
		fmt.Println(output.FormatDataset(*ds))
		return nil
	},
}

var datasetsInfoCmd = &cobra.Command{
	Use:   "info [NAME]",
	Short: "Show a dataset's size and fields",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := datasetName()
		if len(args) == 1 {
			name, err = args[0], nil
		}
		if err != nil {
			return err
		}
		ds, err := newClient().GetDataset(name)
		if err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(ds)
		}
		fmt.Println(output.FormatDataset(*ds))
		return nil
	},
}

// parseFieldSpecs parses "name[:kind[:transform]]" arguments.
func parseFieldSpecs(specs []string) ([]syncclient.Field, error) {
	fields := make([]syncclient.Field, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 3)
		if parts[0] == "" {
			return nil, fmt.Errorf("empty field name in %q", spec)
		}
		f := syncclient.Field{Name: parts[0]}
		if len(parts) > 1 {
			f.Kind = parts[1]
		}
		if len(parts) > 2 {
			f.Transform = parts[2]
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func init() {
	rootCmd.AddCommand(datasetsCmd)
	datasetsCmd.AddCommand(datasetsCreateCmd, datasetsInfoCmd)
	datasetsCmd.PersistentFlags().Bool("json", false, "Output as JSON")
}
