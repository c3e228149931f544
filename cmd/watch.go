package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/presence-hub/internal/hub"
	"github.com/kozaktomas/presence-hub/internal/projection"
)

var watchCmd = &cobra.Command{
	Use:   "watch <location-id>",
	Short: "Follow a location's live presence view",
	Long: `Subscribe to a location's event stream and print the presence view every
time it changes.

The view is rebuilt from the snapshot and the deltas that follow it. When a
sequence gap is detected, or the server ends the stream, the command
resubscribes and starts from a fresh snapshot.

Examples:
  # Group by area (default)
  presence-hub watch 1

  # Group by scanner against a remote server
  presence-hub watch 1 --url https://presence.example.com --group device`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().String("url", "http://localhost:8080", "Presence Hub base URL")
	watchCmd.Flags().String("group", "area", "Grouping: area, device or person")
}

// errResync ends a stream whose view can no longer be trusted.
var errResync = errors.New("view out of sync")

// sseEvent is one Server-Sent Event.
type sseEvent struct {
	Name string
	Data []byte
}

// readEvents parses an event stream and calls fn for every complete event.
// Comment lines are skipped. It returns fn's error, the read error or io.EOF.
func readEvents(r io.Reader, fn func(sseEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var ev sseEvent
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if ev.Name != "" || len(data) > 0 {
				if ev.Name == "" {
					ev.Name = "message"
				}
				ev.Data = []byte(strings.Join(data, "\n"))
				if err := fn(ev); err != nil {
					return err
				}
			}
			ev, data = sseEvent{}, nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// applyEvent feeds one stream event into the view.
func applyEvent(view *projection.View, ev sseEvent) error {
	switch ev.Name {
	case string(hub.MessageSnapshot), string(hub.MessageDelta):
		var msg hub.Message
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			return fmt.Errorf("decoding %s: %w", ev.Name, err)
		}
		if !view.Apply(msg) {
			return errResync
		}
		return nil
	case "error":
		return fmt.Errorf("server ended stream: %s", string(ev.Data))
	}
	return nil
}

// renderView prints the grouped view as a table.
func renderView(w io.Writer, view *projection.View, grouping projection.Grouping) {
	fmt.Fprintf(w, "\nLocation %s  seq %d  %s\n", view.LocationID(), view.Seq(), time.Now().Format(time.TimeOnly))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tPERSON\tDEVICE\tAREA\tCONFIDENCE\tSEEN")
	for _, g := range view.Groups(grouping) {
		for _, p := range g.Cards {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
				g.Label, p.PersonID, p.DeviceID, p.AreaName(), p.Confidence,
				p.DetectedAt.Local().Format(time.TimeOnly))
		}
	}
	_ = tw.Flush()
}

func watchOnce(ctx context.Context, streamURL string, grouping projection.Grouping) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	view := projection.NewView()
	return readEvents(resp.Body, func(ev sseEvent) error {
		if err := applyEvent(view, ev); err != nil {
			return err
		}
		if view.Synced() {
			renderView(os.Stdout, view, grouping)
		}
		return nil
	})
}

func runWatch(cmd *cobra.Command, args []string) error {
	grouping, ok := projection.ParseGrouping(mustGetString(cmd, "group"))
	if !ok {
		return fmt.Errorf("invalid --group %q (use area, device or person)", mustGetString(cmd, "group"))
	}
	base := strings.TrimRight(mustGetString(cmd, "url"), "/")
	streamURL := base + "/api/v1/locations/" + url.PathEscape(args[0]) + "/stream"

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backoff := time.Second
	for {
		started := time.Now()
		err := watchOnce(ctx, streamURL, grouping)
		if ctx.Err() != nil {
			return nil
		}
		// A stream that ran for a while resets the backoff.
		if time.Since(started) > time.Minute {
			backoff = time.Second
		}
		fmt.Fprintf(os.Stderr, "Stream ended (%v), resubscribing in %s\n", err, backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}
