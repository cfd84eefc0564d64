package main

import (
	"encoding/json"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"node.town/hark/hub"
	"node.town/hark/ui"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Show live transcripts from a running server",
	RunE:  runListen,
}

func init() {
	listenCmd.Flags().String("url", "ws://localhost:8001/", "server websocket URL")
}

func runListen(cmd *cobra.Command, args []string) error {
	url, _ := cmd.Flags().GetString("url")

	ws, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer ws.Close()

	events := make(chan hub.Event, 64)
	readErr := make(chan error, 1)
	go func() {
		defer close(events)
		readErr <- readEvents(ws, events)
	}()

	p := tea.NewProgram(ui.New("hark · "+url, events), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("viewer: %w", err)
	}

	ws.Close()
	go func() {
		for range events {
		}
	}()
	// the read error is from our own Close
	<-readErr
	return nil
}

// readEvents decodes transcript events from ws until the connection
// fails. Messages that are not events are skipped; the viewer owns the
// terminal so there is nowhere to report them.
func readEvents(ws *websocket.Conn, events chan<- hub.Event) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		var ev hub.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		events <- ev
	}
}
