package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/gridsync/internal/output"
)

var showCmd = &cobra.Command{
	Use:     "show ID",
	Short:   "Render one record as a document",
	GroupID: "view",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := datasetName()
		if err != nil {
			return err
		}
		client := newClient()
		ds, err := client.GetDataset(name)
		if err != nil {
			return err
		}
		rec, err := client.GetRecord(name, args[0])
		if err != nil {
			return err
		}

		md := output.RecordMarkdown(name, *rec, fieldNames(ds.Fields))
		rendered, err := output.RenderMarkdown(md)
		if err != nil {
			return fmt.Errorf("render: %w", err)
		}
		fmt.Println(rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
