package model

import "time"

// Waveform channels captured around each alarm. The set is fixed by the
// export pipeline; sampling rates differ per channel.
const (
	ChannelABP    = "ABP"
	ChannelLeadII = "Lead-II"
	ChannelResp   = "Resp"
	ChannelPleth  = "Pleth"
)

// WaveformChannels lists the supported channels in display order.
var WaveformChannels = []string{ChannelABP, ChannelLeadII, ChannelResp, ChannelPleth}

// Vital is one scalar numeric reading attached to a snapshot. AgeSeconds is
// how stale the reading was relative to the snapshot timestamp.
type Vital struct {
	Value      float64 `json:"value"`
	AgeSeconds float64 `json:"age_seconds"`
}

// Snapshot bundles the waveform samples, scalar vitals and raw device
// labels recorded at one timestamp. Snapshots are read-only.
type Snapshot struct {
	Timestamp time.Time
	Channels  map[string][]float64
	Vitals    map[string]Vital
	RawLabels []string
}
