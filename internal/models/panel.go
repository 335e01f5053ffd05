package models

import "fmt"

// Panel is one configured channel block.
type Panel struct {
	Title     string `mapstructure:"title"`
	ChannelID string `mapstructure:"channel_id"`
	ReadKey   string `mapstructure:"read_key"`
	WriteKey  string `mapstructure:"write_key"`
}

// Actuator kinds wired to channel fields.
const (
	KindFan   = "fan"
	KindLight = "light"
)

// fansPerPanel is how many leading fields drive fans; the rest drive lights.
const fansPerPanel = 4

// Actuator describes what a field controls.
type Actuator struct {
	Field int    `json:"field"`
	Kind  string `json:"kind"`
	Label string `json:"label"`
}

// PanelInfo is the public description of a panel. Keys are never exposed.
type PanelInfo struct {
	Index     int        `json:"index"`
	Title     string     `json:"title"`
	ChannelID string     `json:"channel_id"`
	Actuators []Actuator `json:"actuators"`
}

// Actuators lists fields 1..4 as fans and 5..8 as lights.
func Actuators() []Actuator {
	out := make([]Actuator, 0, FieldCount)
	for i := 1; i <= FieldCount; i++ {
		if i <= fansPerPanel {
			out = append(out, Actuator{Field: i, Kind: KindFan, Label: fmt.Sprintf("Fan %d", i)})
			continue
		}
		out = append(out, Actuator{Field: i, Kind: KindLight, Label: fmt.Sprintf("Light %d", i-fansPerPanel)})
	}
	return out
}
