package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusServer string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the health endpoint of a running wxdashd instance",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "http://localhost:8080", "wxdashd server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(statusServer + "/healthz")
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", statusServer, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var health struct {
		Status      string `json:"status"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime"`
		Subscribers int    `json:"subscribers"`
		Database    struct {
			Driver       string `json:"driver"`
			Status       string `json:"status"`
			TotalRecords int    `json:"total_records"`
		} `json:"database"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&health); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	// Human-readable output.
	fmt.Printf("wxdashd %s\n", health.Version)
	fmt.Printf("Status: %s\n", health.Status)
	fmt.Printf("Uptime: %s\n", health.Uptime)
	fmt.Printf("Live subscribers: %d\n", health.Subscribers)
	fmt.Println()

	fmt.Printf("Database: %s (%s)\n", health.Database.Driver, health.Database.Status)
	if health.Database.TotalRecords > 0 {
		fmt.Printf("  Records: %s\n", formatNumber(health.Database.TotalRecords))
	}

	return nil
}

// formatNumber formats an integer with comma separators (e.g., 1,247,832).
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var result []byte
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}
