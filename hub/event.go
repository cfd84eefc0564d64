package hub

import "encoding/json"

type EventType string

const (
	Realtime     EventType = "realtime"
	FullSentence EventType = "fullSentence"
)

// Event is what clients receive, one JSON text message per event.
type Event struct {
	Type EventType `json:"type"`
	Text string    `json:"text"`
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
