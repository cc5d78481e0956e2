package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/retrieval"
)

func newIndexDocumentCmd() *cobra.Command {
	var (
		businessID string
		source     string
		apiKey     string
		chunkSize  int
		overlap    int
	)

	cmd := &cobra.Command{
		Use:   "index-document [file]",
		Short: "Chunk and embed a text document for a business",
		Long:  "Chunk a text file, embed every chunk and replace the document's stored chunks. The business answers from these chunks when document context is enabled.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				return errors.New("an OpenAI API key is required (--openai-api-key or $OPENAI_API_KEY)")
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if source == "" {
				source = filepath.Base(args[0])
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

			gc, err := genai.NewClient(genai.WithAPIKey(apiKey))
			if err != nil {
				return err
			}
			ix := retrieval.NewIndex(st, gc, retrieval.WithChunkSize(chunkSize), retrieval.WithChunkOverlap(overlap))
			n, err := ix.IndexDocument(cmd.Context(), businessID, source, string(raw))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks of %s for %s\n", n, source, businessID)
			return nil
		},
	}

	cmd.Flags().StringVar(&businessID, "business", "", "business id the document belongs to")
	cmd.Flags().StringVar(&source, "source", "", "document name (default file name)")
	cmd.Flags().StringVar(&apiKey, "openai-api-key", os.Getenv("OPENAI_API_KEY"), "OpenAI API key")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", retrieval.DefaultChunkSize, "characters per chunk")
	cmd.Flags().IntVar(&overlap, "chunk-overlap", retrieval.DefaultChunkOverlap, "characters shared by consecutive chunks")
	_ = cmd.MarkFlagRequired("business")
	return cmd
}
