package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/folderd/internal/core/domain"
)

var (
	flagMCPAddr     string
	flagSearchLimit int
	flagSearchToken string
	flagSearchDocs  bool
	flagSearchJSON  bool
)

var searchCmd = &cobra.Command{
	Use:   "search <folder> <query>",
	Short: "Search an indexed folder",
	Long: `Run a semantic search against a running daemon's query endpoint.
By default results are matching chunks; --documents returns whole
documents with aggregate statistics.`,
	Args: cobra.ExactArgs(2),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&flagMCPAddr, "mcp-addr", domain.DefaultMCPAddr, "daemon query endpoint address")
	searchCmd.Flags().IntVarP(&flagSearchLimit, "limit", "n", 0, "results per page (default: daemon's page size)")
	searchCmd.Flags().StringVar(&flagSearchToken, "token", "", "continuation token from a previous page")
	searchCmd.Flags().BoolVarP(&flagSearchDocs, "documents", "d", false, "return documents instead of chunks")
	searchCmd.Flags().BoolVar(&flagSearchJSON, "json", false, "print the raw result as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	folder, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving folder: %w", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "folderd-cli", Version: version}, nil)
	session, err := client.Connect(cmd.Context(), &mcp.StreamableClientTransport{
		Endpoint: "http://" + flagMCPAddr,
	}, nil)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer session.Close() //nolint:errcheck

	tool := "search"
	if flagSearchDocs {
		tool = "find_documents"
	}

	res, err := session.CallTool(cmd.Context(), &mcp.CallToolParams{
		Name: tool,
		Arguments: map[string]any{
			"folder":             folder,
			"query":              args[1],
			"limit":              flagSearchLimit,
			"continuation_token": flagSearchToken,
		},
	})
	if err != nil {
		return err
	}
	if res.IsError {
		for _, c := range res.Content {
			if tc, ok := c.(*mcp.TextContent); ok {
				return fmt.Errorf("%s", tc.Text)
			}
		}
		return fmt.Errorf("search failed")
	}

	if flagSearchJSON {
		out, err := json.MarshalIndent(res.StructuredContent, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	}

	if flagSearchDocs {
		return printDocumentResults(cmd, res.StructuredContent)
	}
	return printChunkResults(cmd, res.StructuredContent)
}

// decodeResult round-trips the structured tool output into a typed value.
func decodeResult(content any, out any) error {
	data, err := json.Marshal(content)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func printChunkResults(cmd *cobra.Command, content any) error {
	var out struct {
		Results []struct {
			Path    string  `json:"path"`
			Score   float64 `json:"score"`
			Content string  `json:"content"`
		} `json:"results"`
		TotalMatched      int    `json:"total_matched"`
		HasMore           bool   `json:"has_more"`
		ContinuationToken string `json:"continuation_token"`
	}
	if err := decodeResult(content, &out); err != nil {
		return err
	}

	if len(out.Results) == 0 {
		cmd.Println("no matches")
		return nil
	}
	for _, r := range out.Results {
		cmd.Printf("%.3f  %s\n", r.Score, r.Path)
		cmd.Printf("       %s\n", snippet(r.Content, 160))
	}
	cmd.Printf("%d matched\n", out.TotalMatched)
	if out.HasMore {
		cmd.Printf("more results: --token %s\n", out.ContinuationToken)
	}
	return nil
}

func printDocumentResults(cmd *cobra.Command, content any) error {
	var out struct {
		Results []struct {
			Path           string   `json:"path"`
			Score          float64  `json:"score"`
			ChunkCount     int      `json:"chunk_count"`
			AvgReadability float64  `json:"avg_readability"`
			TopKeyPhrases  []string `json:"top_key_phrases"`
		} `json:"results"`
		TotalMatched      int    `json:"total_matched"`
		HasMore           bool   `json:"has_more"`
		ContinuationToken string `json:"continuation_token"`
	}
	if err := decodeResult(content, &out); err != nil {
		return err
	}

	if len(out.Results) == 0 {
		cmd.Println("no matches")
		return nil
	}
	for _, r := range out.Results {
		cmd.Printf("%.3f  %s  (%d chunks, readability %.0f)\n",
			r.Score, r.Path, r.ChunkCount, r.AvgReadability)
		if len(r.TopKeyPhrases) > 0 {
			cmd.Printf("       key phrases: %v\n", r.TopKeyPhrases)
		}
	}
	cmd.Printf("%d matched\n", out.TotalMatched)
	if out.HasMore {
		cmd.Printf("more results: --token %s\n", out.ContinuationToken)
	}
	return nil
}

// snippet flattens and truncates chunk text for terminal display.
func snippet(s string, max int) string {
	flat := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			r = ' '
		}
		flat = append(flat, r)
	}
	if len(flat) > max {
		return string(flat[:max-3]) + "..."
	}
	return string(flat)
}
