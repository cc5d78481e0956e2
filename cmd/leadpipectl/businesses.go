package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListBusinessesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-businesses",
		Short: "List the registered businesses",
		Long:  "List every business in the registry with its enabled tools, for use with --business.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			list, err := st.ListBusinesses(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no businesses registered")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTOOLS")
			for _, b := range list {
				tools := strings.Join(b.Profile.Capabilities.Tools, ",")
				if tools == "" {
					tools = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", b.ID, b.Name, tools)
			}
			return w.Flush()
		},
	}
}
