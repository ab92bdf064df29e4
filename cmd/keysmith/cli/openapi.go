package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/faucetdb/keysmith/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		serverURL  string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI specification",
		Long: `Generate the OpenAPI 3.1 document describing the keysmith HTTP API, including
rate limit headers and error envelopes. The same document is served at /openapi.json.`,
		Example: `  keysmith openapi
  keysmith openapi --server-url https://auth.example.com -o openapi.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(serverURL, outputFile)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server-url", "http://localhost:8080", "Base URL listed in the servers section")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write spec to file instead of stdout")

	return cmd
}

func runOpenAPI(serverURL, outputFile string) error {
	doc := openapi.Generate(serverURL, versionString())

	jsonBytes, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal openapi document: %w", err)
	}

	if outputFile == "" {
		fmt.Println(string(jsonBytes))
		return nil
	}
	if err := os.WriteFile(outputFile, append(jsonBytes, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %w", outputFile, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s (%d paths)\n", outputFile, doc.Paths.Len())
	return nil
}
