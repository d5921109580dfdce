package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/tgrelay/internal/db"
)

const eventsLongDesc string = `Print the journal as a tree of events.

By default the tree starts at the most recent relay process.started event.
Each inbound message hangs under the process and the exchange and reply
events hang under their message.

Examples:
  relay events
  relay events --id 42 -L 2
  relay events --journal state/relay.db --json --no-payload`

const eventsShortDesc string = "Show the event journal as a tree"

type eventsCommander struct {
	journalPath string
	eventID     int64
	maxDepth    int
	jsonOut     bool
	noPayload   bool
}

// eventNode is a journal event with its children attached.
type eventNode struct {
	db.Event
	Children []*eventNode
}

func newEventsCmd() *cobra.Command {
	cmder := &eventsCommander{}

	cmd := &cobra.Command{
		Use:   "events",
		Short: eventsShortDesc,
		Long:  eventsLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&cmder.journalPath, "journal", "state/relay.db", "Path to the SQLite event journal")
	cmd.Flags().Int64Var(&cmder.eventID, "id", 0, "Show the subtree of a specific event id")
	cmd.Flags().IntVarP(&cmder.maxDepth, "depth", "L", 0, "Limit display depth (0 = unlimited)")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&cmder.noPayload, "no-payload", false, "Hide payload details")

	return cmd
}

func (c *eventsCommander) run(w io.Writer) error {
	database, err := db.OpenDB(c.journalPath)
	if err != nil {
		return err
	}
	defer database.Close()

	rootID := c.eventID
	if rootID == 0 {
		if rootID, err = db.LatestRoot(database, "relay"); err != nil {
			return err
		}
	}

	events, err := db.Subtree(database, rootID)
	if err != nil {
		return fmt.Errorf("query subtree: %w", err)
	}
	root := buildTree(events, rootID)
	if root == nil {
		return fmt.Errorf("event %d not found", rootID)
	}

	if c.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(toJSONEvent(root, 1, c.maxDepth, c.noPayload))
	}
	printTree(w, root, "", true, 1, c.maxDepth, c.noPayload)
	return nil
}

func buildTree(events []db.Event, rootID int64) *eventNode {
	byID := make(map[int64]*eventNode, len(events))
	for _, ev := range events {
		byID[ev.ID] = &eventNode{Event: ev}
	}
	for _, ev := range events {
		if ev.ParentID == nil || *ev.ParentID == ev.ID {
			continue
		}
		if parent, ok := byID[*ev.ParentID]; ok {
			parent.Children = append(parent.Children, byID[ev.ID])
		}
	}
	for _, n := range byID {
		sort.Slice(n.Children, func(i, j int) bool {
			return n.Children[i].ID < n.Children[j].ID
		})
	}
	return byID[rootID]
}

func printTree(w io.Writer, n *eventNode, prefix string, isLast bool, depth, maxDepth int, noPayload bool) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}
	if depth == 1 {
		fmt.Fprintln(w, formatEvent(n, noPayload))
	} else {
		fmt.Fprintln(w, prefix+connector+formatEvent(n, noPayload))
	}

	childPrefix := prefix
	if depth > 1 {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}

	if maxDepth > 0 && depth >= maxDepth {
		if len(n.Children) > 0 {
			fmt.Fprintln(w, childPrefix+"└── [...]")
		}
		return
	}
	for i, child := range n.Children {
		printTree(w, child, childPrefix, i == len(n.Children)-1, depth+1, maxDepth, noPayload)
	}
}

// formatEvent renders "[id] timestamp  type  key=value ..." with sorted keys.
func formatEvent(n *eventNode, noPayload bool) string {
	ts := time.Unix(n.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%d] %s  %s", n.ID, ts, n.Type)
	if noPayload || len(n.Payload) == 0 {
		return line
	}

	keys := make([]string, 0, len(n.Payload))
	for k := range n.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf("  %s=%s", k, formatValue(n.Payload[k]))
	}
	return line
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if r := []rune(val); len(r) > 80 {
			return fmt.Sprintf("%q", string(r[:80])+"...")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

type jsonEvent struct {
	ID        int64          `json:"id"`
	Timestamp int64          `json:"timestamp"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Children  []jsonEvent    `json:"children,omitempty"`
}

func toJSONEvent(n *eventNode, depth, maxDepth int, noPayload bool) jsonEvent {
	je := jsonEvent{ID: n.ID, Timestamp: n.Timestamp, EventType: n.Type}
	if !noPayload {
		je.Payload = n.Payload
	}
	if maxDepth > 0 && depth >= maxDepth {
		return je
	}
	for _, child := range n.Children {
		je.Children = append(je.Children, toJSONEvent(child, depth+1, maxDepth, noPayload))
	}
	return je
}
