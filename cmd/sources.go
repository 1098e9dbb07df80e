package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kiesman99/anaxi/pkg/tile"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List known tile servers",
	Long: `List the built-in tile servers and those configured under "sources".

IDs are prone to change, we recommend you use this as a reference and hardcode
your URLs. Use the IDs anywhere a tile server URL can be used.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		sources, err := knownSources()
		if err != nil {
			return err
		}
		return printSources(cmd.OutOrStdout(), sources, output)
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
	sourcesCmd.Flags().StringP("output", "o", "text", "output format (text|yaml)")
}

type listedSource struct {
	ID          int `yaml:"id"`
	tile.Source `yaml:",inline"`
}

func printSources(w io.Writer, sources []tile.Source, format string) error {
	switch format {
	case "yaml":
		list := make([]listedSource, len(sources))
		for i, s := range sources {
			list[i] = listedSource{ID: i, Source: s}
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(list); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		fmt.Fprintln(w, "Below are some builtin tile servers. IDs are prone to change, we recommend you use this as a reference and hardcode your URLs. Use the IDs anywhere a Tile server URL can be used")
		for i, s := range sources {
			fmt.Fprintf(w, "%d %s:\n", i, s.Name)
			fmt.Fprintf(w, "    URL: %s\n", s.URL)
			fmt.Fprintf(w, "    License: %s\n", s.License)
			fmt.Fprintf(w, "    [Min, Max] Zoom: [%d, %d]\n\n", s.MinZoom, s.MaxZoom)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q (text|yaml)", format)
	}
}
