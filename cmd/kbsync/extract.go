package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/kbsync/internal/core"
	"github.com/markdave123-py/kbsync/internal/core/ingestion_engine"
	"github.com/markdave123-py/kbsync/internal/core/llm"
)

var (
	extractType   string
	extractChunks bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Print the text the pipeline would index for a local file",
	Long: `Extracts text from a local file with the same strategies the sync
pipeline uses. The content type comes from --type, then the file extension,
then content sniffing. Images are described only when GEMINI_API_KEY is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		mimeType := extractType
		if mimeType == "" {
			mimeType = mime.TypeByExtension(filepath.Ext(args[0]))
		}

		var describer core.ImageDescriber
		if cfg.AIAPIKey != "" {
			vision, err := llm.NewGeminiVision(cmd.Context(), cfg.AIAPIKey, cfg.VisionModel)
			if err != nil {
				return err
			}
			defer vision.Close()
			describer = vision
		}

		text, err := ingestion_engine.NewExtractor(describer).Extract(cmd.Context(), data, mimeType)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !extractChunks {
			_, err = fmt.Fprintln(out, text)
			return err
		}
		chunks, err := ingestion_engine.Chunk(text, cfg.ChunkSize, cfg.ChunkOverlap)
		if err != nil {
			return err
		}
		for i, c := range chunks {
			fmt.Fprintf(out, "--- chunk %d/%d (%d runes)\n%s\n", i+1, len(chunks), len([]rune(c)), c)
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractType, "type", "", "content type of the file")
	extractCmd.Flags().BoolVar(&extractChunks, "chunks", false, "print the chunk windows instead of the raw text")
	rootCmd.AddCommand(extractCmd)
}
