package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/presence-hub/internal/web/handlers"
)

var replayCmd = &cobra.Command{
	Use:   "replay <file.jsonl>",
	Short: "Submit recorded detections to a running server",
	Long: `Read detections from a JSON Lines file and POST each one to
/api/v1/detections. Each line has the request body format:

  {"person_id":"alice","device_id":"scanner-1","location_id":"1","confidence":0.92,"detected_at":"2026-03-01T09:00:00Z"}

Detections of the same person are always sent in file order, so moves replay
correctly even with several workers.

Examples:
  # Replay against a local server
  presence-hub replay fixtures/morning.jsonl

  # Use a device token and 8 workers
  presence-hub replay fixtures/morning.jsonl --token "$TOKEN" --concurrency 8

  # JSON output for scripting
  presence-hub replay fixtures/morning.jsonl --json`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().String("url", "http://localhost:8080", "Presence Hub base URL")
	replayCmd.Flags().String("token", "", "Device token sent as a bearer token")
	replayCmd.Flags().Int("concurrency", 4, "Number of parallel workers")
	replayCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

// ReplayResult represents the result of a replay run
type ReplayResult struct {
	Success       bool   `json:"success"`
	Submitted     int    `json:"submitted"`
	Accepted      int    `json:"accepted"`
	Rejected      int    `json:"rejected"`
	Errors        int    `json:"errors"`
	DurationMs    int64  `json:"duration_ms"`
	DurationHuman string `json:"duration_human,omitempty"`
}

// replayLine is one parsed line of the input file.
type replayLine struct {
	number int
	body   []byte
	person string
}

// readReplayFile parses a JSON Lines file. Blank lines are skipped; any line that is not
// a detection object fails the whole file.
func readReplayFile(r io.Reader) ([]replayLine, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var lines []replayLine
	number := 0
	for scanner.Scan() {
		number++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var req handlers.DetectionRequest
		if err := json.Unmarshal([]byte(text), &req); err != nil {
			return nil, fmt.Errorf("line %d: %w", number, err)
		}
		lines = append(lines, replayLine{
			number: number,
			body:   []byte(text),
			person: req.LocationID + "/" + req.PersonID,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return lines, nil
}

// shardLines splits lines across n workers so that a person always lands on the same worker.
func shardLines(lines []replayLine, n int) [][]replayLine {
	shards := make([][]replayLine, n)
	for _, line := range lines {
		h := fnv.New32a()
		_, _ = h.Write([]byte(line.person))
		i := int(h.Sum32() % uint32(n))
		shards[i] = append(shards[i], line)
	}
	return shards
}

// postDetection sends one detection and reports whether it was accepted. Rejections (4xx)
// are not errors.
func postDetection(ctx context.Context, client *http.Client, endpoint, token string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusAccepted:
		return true, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func runReplay(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	concurrency := max(mustGetInt(cmd, "concurrency"), 1)
	token := mustGetString(cmd, "token")
	endpoint := strings.TrimRight(mustGetString(cmd, "url"), "/") + "/api/v1/detections"

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()

	lines, err := readReplayFile(f)
	if err != nil {
		return err
	}

	startTime := time.Now()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client := &http.Client{Timeout: 30 * time.Second}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(lines),
			progressbar.OptionSetDescription("Replaying"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("detections"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	var accepted, rejected, errorCount int64
	var wg sync.WaitGroup
	for _, shard := range shardLines(lines, concurrency) {
		wg.Add(1)
		go func(shard []replayLine) {
			defer wg.Done()
			for _, line := range shard {
				ok, err := postDetection(ctx, client, endpoint, token, line.body)
				switch {
				case err != nil:
					atomic.AddInt64(&errorCount, 1)
					if !jsonOutput {
						fmt.Fprintf(os.Stderr, "\nline %d: %v\n", line.number, err)
					}
				case ok:
					atomic.AddInt64(&accepted, 1)
				default:
					atomic.AddInt64(&rejected, 1)
				}
				if bar != nil {
					_ = bar.Add(1)
				}
			}
		}(shard)
	}
	wg.Wait()

	if bar != nil {
		fmt.Println()
	}

	duration := time.Since(startTime)
	result := ReplayResult{
		Success:       errorCount == 0,
		Submitted:     len(lines),
		Accepted:      int(accepted),
		Rejected:      int(rejected),
		Errors:        int(errorCount),
		DurationMs:    duration.Milliseconds(),
		DurationHuman: formatDuration(duration),
	}

	if jsonOutput {
		// Remove human-readable duration for JSON output
		result.DurationHuman = ""
		return outputJSON(result)
	}

	fmt.Println("\nReplay complete!")
	fmt.Printf("  Submitted: %d\n", result.Submitted)
	fmt.Printf("  Accepted:  %d\n", result.Accepted)
	if result.Rejected > 0 {
		fmt.Printf("  Rejected:  %d\n", result.Rejected)
	}
	if result.Errors > 0 {
		fmt.Printf("  Errors:    %d\n", result.Errors)
	}
	fmt.Printf("  Duration:  %s\n", result.DurationHuman)

	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
