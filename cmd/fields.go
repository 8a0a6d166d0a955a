package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/gridsync/internal/output"
)

var fieldsCmd = &cobra.Command{
	Use:     "fields",
	Short:   "List a dataset's fields",
	GroupID: "schema",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := datasetName()
		if err != nil {
			return err
		}
		ds, err := newClient().GetDataset(name)
		if err != nil {
			return err
		}
		for _, f := range ds.Fields {
			fmt.Println(output.FormatField(f))
		}
		return nil
	},
}

var fieldsAddCmd = &cobra.Command{
	Use:     "add FIELD[:KIND[:TRANSFORM]]",
	Short:   "Add a field; open viewers show it immediately",
	Example: `  gridsync -d tasks fields add size:number:bytes`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := datasetName()
		if err != nil {
			return err
		}
		specs, err := parseFieldSpecs(args)
		if err != nil {
			return err
		}
		ds, err := newClient().AddField(name, specs[0])
		if err != nil {
			return err
		}
		output.Success("Added %s", specs[0].Name)
		fmt.Println(output.FormatDataset(*ds))
		return nil
	},
}

var fieldsRemoveCmd = &cobra.Command{
	Use:     "remove FIELD",
	Aliases: []string{"rm"},
	Short:   "Remove a field and its values",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := datasetName()
		if err != nil {
			return err
		}
		ds, err := newClient().RemoveField(name, args[0])
		if err != nil {
			return err
		}
		output.Success("Removed %s", args[0])
		fmt.Println(output.FormatDataset(*ds))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fieldsCmd)
	fieldsCmd.AddCommand(fieldsAddCmd, fieldsRemoveCmd)
}
