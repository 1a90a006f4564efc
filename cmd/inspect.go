package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/biodt/soilgrids-cli/internal/soil"
	"github.com/biodt/soilgrids-cli/internal/soilfile"
)

var inspectFile string

type inspectProperty struct {
	ID     string    `yaml:"id"`
	Source string    `yaml:"source"`
	Unit   string    `yaml:"unit,omitempty"`
	Values []float64 `yaml:"values,flow"`
}

type inspectOutput struct {
	File       string                   `yaml:"file"`
	Properties []inspectProperty        `yaml:"properties"`
	Protocol   []soilfile.ProtocolEntry `yaml:"protocol,omitempty"`
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Parse a soil data file and print it as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := inspect(inspectFile)
		if err != nil {
			return err
		}
		return printYAML(cmd.OutOrStdout(), out)
	},
}

// inspect reads a soil data file and, when present, its query protocol.
func inspect(path string) (*inspectOutput, error) {
	rec, err := soilfile.ParseFile(path)
	if err != nil {
		return nil, err
	}

	out := &inspectOutput{File: path}
	for _, e := range rec.Entries() {
		out.Properties = append(out.Properties, inspectProperty{
			ID:     e.Spec.ID,
			Source: e.Spec.Source.String(),
			Unit:   unitOf(e.Spec),
			Values: e.Values,
		})
	}

	protocolPath := soilfile.ProtocolPath(path)
	if _, statErr := os.Stat(protocolPath); statErr == nil {
		entries, pErr := soilfile.ParseProtocolFile(protocolPath)
		if pErr != nil {
			return nil, pErr
		}
		out.Protocol = entries
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return nil, statErr
	}
	return out, nil
}

func unitOf(spec soil.PropertySpec) string {
	if spec.Unit == "" {
		return "fraction"
	}
	return spec.Unit
}

func init() {
	inspectCmd.Flags().StringVar(&inspectFile, "file", "", "soil data file (required)")
	_ = inspectCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(inspectCmd)
}
