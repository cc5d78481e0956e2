package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

func newPurgeMessagesCmd() *cobra.Command {
	var (
		phone      string
		businessID string
	)

	cmd := &cobra.Command{
		Use:   "purge-messages",
		Short: "Delete the stored messages of a lead",
		Long:  "Delete a lead's stored conversation, for one business or, without --business, for all of them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			normalized, err := models.NormalizePhoneNumber(phone)
			if err != nil {
				return err
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.DeleteMessages(cmd.Context(), normalized, businessID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d messages for %s\n", n, normalized)
			return nil
		},
	}

	cmd.Flags().StringVar(&phone, "phone", "", "lead phone number")
	cmd.Flags().StringVar(&businessID, "business", "", "restrict to one business id")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}
