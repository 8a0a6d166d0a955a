package cmd

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/marcus/gridsync/internal/output"
	"github.com/marcus/gridsync/internal/syncclient"
)

var editCmd = &cobra.Command{
	Use:     "edit ID",
	Short:   "Edit a record in an interactive form",
	GroupID: "data",
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

		form, inputs := buildEditForm(ds.Fields, rec)
		if err := form.Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				fmt.Println("Cancelled")
				return nil
			}
			return err
		}

		changed, err := editedValues(ds.Fields, rec, inputs)
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			fmt.Println("No changes")
			return nil
		}
		updated, err := client.UpdateRecord(name, rec.ID, changed)
		if err != nil {
			return err
		}
		output.Success("Updated %s", rec.ID)
		fmt.Println(output.FormatRecordShort(*updated, fieldNames(ds.Fields)))
		return nil
	},
}

// buildEditForm builds one input per field, prefilled with the record's
// values. The returned map holds the bound input strings by field name.
func buildEditForm(fields []syncclient.Field, rec *syncclient.Record) (*huh.Form, map[string]*string) {
	inputs := make(map[string]*string, len(fields))
	var items []huh.Field
	for _, f := range fields {
		value := formatInput(rec.Values[f.Name])
		inputs[f.Name] = &value

		if f.Kind == "bool" {
			items = append(items, huh.NewSelect[string]().
				Title(f.Name).
				Options(huh.NewOption("(empty)", ""), huh.NewOption("true", "true"), huh.NewOption("false", "false")).
				Value(&value))
			continue
		}
		input := huh.NewInput().
			Title(f.Name).
			Value(&value).
			Validate(func(s string) error {
				_, err := parseValue(f.Kind, s)
				return err
			})
		if f.Kind != "" {
			input = input.Description(f.Kind)
		}
		items = append(items, input)
	}
	group := huh.NewGroup(items...).Title(fmt.Sprintf("Edit %s (row %d)", rec.ID, rec.Index+1))
	return huh.NewForm(group), inputs
}

// editedValues returns the fields whose input differs from the record.
func editedValues(fields []syncclient.Field, rec *syncclient.Record, inputs map[string]*string) (map[string]any, error) {
	changed := make(map[string]any)
	for _, f := range fields {
		raw := *inputs[f.Name]
		if raw == formatInput(rec.Values[f.Name]) {
			continue
		}
		v, err := parseValue(f.Kind, raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		changed[f.Name] = v
	}
	return changed, nil
}

func init() {
	rootCmd.AddCommand(editCmd)
}
