package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/LeadPipe/internal/followup"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
)

func newBroadcastCmd() *cobra.Command {
	var (
		businessID  string
		numbersFile string
		text        string
		template    string
		language    string
		params      []string
		baseURL     string
	)

	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Send a template or text message to a list of numbers",
		Long:  "Send a template or text message to every number in a file. Numbers are separated by newlines or commas.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (text == "") == (template == "") {
				return errors.New("exactly one of --text or --template is required")
			}
			f, err := os.Open(numbersFile)
			if err != nil {
				return err
			}
			defer f.Close()
			numbers, err := readNumbers(f)
			if err != nil {
				return err
			}
			if len(numbers) == 0 {
				return fmt.Errorf("no numbers found in %s", numbersFile)
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			exists, err := st.BusinessExists(cmd.Context(), businessID)
			if err != nil {
				return err
			}
			if !exists {
				return &models.BusinessNotFoundError{BusinessID: businessID}
			}

			var waOpts []whatsapp.Option
			if baseURL != "" {
				waOpts = append(waOpts, whatsapp.WithBaseURL(baseURL))
			}
			gateway := messaging.NewGateway(whatsapp.NewClient(waOpts...), st, followup.NewJobScheduler(st))

			var ref *models.TemplateRef
			if template != "" {
				ref = &models.TemplateRef{Name: template, Language: language, HeaderParams: params}
			}
			summary := gateway.SendMassiveMessage(cmd.Context(), broadcastMessages(businessID, numbers, text, ref))
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d, failed %d\n", summary.Successes, summary.Errors)
			for _, d := range summary.Details {
				if !d.OK() {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", d.To, d.Message)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&businessID, "business", "", "business id to send from")
	cmd.Flags().StringVar(&numbersFile, "numbers", "", "file with recipient numbers")
	cmd.Flags().StringVar(&text, "text", "", "text message body")
	cmd.Flags().StringVar(&template, "template", "", "template name")
	cmd.Flags().StringVar(&language, "language", "es", "template language code")
	cmd.Flags().StringSliceVar(&params, "param", nil, "template header parameter (repeatable)")
	cmd.Flags().StringVar(&baseURL, "whatsapp-base-url", os.Getenv("WHATSAPP_API_BASE_URL"), "WhatsApp Cloud API base URL")
	_ = cmd.MarkFlagRequired("business")
	_ = cmd.MarkFlagRequired("numbers")
	return cmd
}

// readNumbers reads recipients from newline or comma separated input.
// Blank cells and lines starting with # are skipped.
func readNumbers(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	var numbers []string
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read numbers: %w", err)
		}
		for _, cell := range record {
			if n := strings.TrimSpace(cell); n != "" {
				numbers = append(numbers, n)
			}
		}
	}
	return numbers, nil
}

func broadcastMessages(businessID string, numbers []string, text string, ref *models.TemplateRef) []models.Message {
	msgs := make([]models.Message, 0, len(numbers))
	for _, to := range numbers {
		msg := models.Message{
			BusinessID: businessID,
			To:         to,
			Sender:     models.Sender{BusinessID: businessID},
			Platform:   models.PlatformWhatsApp,
		}
		if ref != nil {
			msg.Kind = models.MessageKindTemplate
			msg.Template = ref
		} else {
			msg.Kind = models.MessageKindText
			msg.Content = text
		}
		msgs = append(msgs, msg)
	}
	return msgs
}
