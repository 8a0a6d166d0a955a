package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/gridsync/internal/output"
	"github.com/marcus/gridsync/internal/syncclient"
)

var insertCmd = &cobra.Command{
	Use:   "insert [FIELD=VALUE...]",
	Short: "Insert a record",
	Long: `Insert one record. Values are typed by the dataset's field kinds.
Without --at the record is appended; without --id the server assigns one.`,
	Example: `  gridsync -d tasks insert title="Write docs" n=3
  gridsync -d tasks insert --at 0 --id first title=Top`,
	GroupID: "data",
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
		values, err := parseAssignments(ds.Fields, args)
		if err != nil {
			return err
		}
		at, _ := cmd.Flags().GetInt("at")
		id, _ := cmd.Flags().GetString("id")
		res, err := client.InsertRecords(name, at, []syncclient.Record{{ID: id, Values: values}})
		if err != nil {
			return err
		}
		output.Success("Inserted %s (%d rows)", res.IDs[0], res.Size)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove [ID...]",
	Aliases: []string{"rm"},
	Short:   "Remove records by id, or a run of rows with --at/--count",
	Example: `  gridsync -d tasks rm 01JB3Z8K6Q4V5W7X9Y0ZABCDEF
  gridsync -d tasks rm --at 10 --count 5`,
	GroupID: "data",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := datasetName()
		if err != nil {
			return err
		}
		client := newClient()
		if cmd.Flags().Changed("at") {
			if len(args) > 0 {
				return fmt.Errorf("pass ids or --at, not both")
			}
			at, _ := cmd.Flags().GetInt("at")
			count, _ := cmd.Flags().GetInt("count")
			if err := client.RemoveRecords(name, at, count); err != nil {
				return err
			}
			output.Success("Removed %d rows at %d", count, at)
			return nil
		}
		if len(args) == 0 {
			return fmt.Errorf("nothing to remove: pass ids or --at")
		}
		for _, id := range args {
			if err := client.DeleteRecord(name, id); err != nil {
				return err
			}
			output.Success("Removed %s", id)
		}
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:     "set ID FIELD=VALUE...",
	Short:   "Update fields of a record",
	Long:    `Update fields of a record. An empty value (field=) clears the field.`,
	Example: `  gridsync -d tasks set 01JB3Z8K6Q4V5W7X9Y0ZABCDEF done=true n=4`,
	GroupID: "data",
	Args:    cobra.MinimumNArgs(2),
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
		values, err := parseAssignments(ds.Fields, args[1:])
		if err != nil {
			return err
		}
		rec, err := client.UpdateRecord(name, args[0], values)
		if err != nil {
			return err
		}
		fmt.Println(output.FormatRecordShort(*rec, fieldNames(ds.Fields)))
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:     "get ID",
	Short:   "Print one record",
	GroupID: "data",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := datasetName()
		if err != nil {
			return err
		}
		client := newClient()
		rec, err := client.GetRecord(name, args[0])
		if err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(rec)
		}
		ds, err := client.GetDataset(name)
		if err != nil {
			return err
		}
		fmt.Println(output.FormatRecordShort(*rec, fieldNames(ds.Fields)))
		return nil
	},
}

func fieldNames(fields []syncclient.Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

func init() {
	rootCmd.AddCommand(insertCmd, removeCmd, setCmd, getCmd)

	insertCmd.Flags().Int("at", -1, "Insert position (default: append)")
	insertCmd.Flags().String("id", "", "Record id (default: server-assigned ULID)")

	removeCmd.Flags().Int("at", 0, "First row to remove")
	removeCmd.Flags().Int("count", 1, "Number of rows to remove with --at")

	getCmd.Flags().Bool("json", false, "Output as JSON")
}
