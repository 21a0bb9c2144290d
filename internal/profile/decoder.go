package profile

import (
	"encoding/json"
	"fmt"
)

// jsonFrame is the wire shape of a single frame in the "json-v2" source
// format -- the modern DE1 profile format, and the one the upload endpoint
// documents in spec §6.
type jsonFrame struct {
	Index      uint8  `json:"index"`
	Flags      uint8  `json:"flags"`
	Target     uint16 `json:"target"`
	TimeRaw    uint16 `json:"time"`
	TriggerRaw uint16 `json:"trigger_value"`
}

type jsonExtFrame struct {
	Index     uint8  `json:"index"`
	MaxVolume uint16 `json:"max_volume"`
}

type jsonProfile struct {
	HeaderVersion uint8          `json:"header_version"`
	StepsInFrame  uint8          `json:"steps_in_frame"`
	Frames        []jsonFrame    `json:"frames"`
	ExtFrames     []jsonExtFrame `json:"ext_frames"`
	TailVersion   uint8          `json:"tail_version"`
}

// JSONDecoder decodes the "json-v2" profile source format into Frames.
type JSONDecoder struct{}

func (JSONDecoder) Decode(source []byte, format string) (Frames, error) {
	if format != "json-v2" {
		return Frames{}, fmt.Errorf("profile: unsupported source format %q", format)
	}
	var jp jsonProfile
	if err := json.Unmarshal(source, &jp); err != nil {
		return Frames{}, fmt.Errorf("profile: decoding json-v2 source: %w", err)
	}

	frames := Frames{
		Header: ShotDescHeader{
			HeaderVersion:   jp.HeaderVersion,
			NumberFrames:    uint8(len(jp.Frames)),
			NumberExtFrames: uint8(len(jp.ExtFrames)),
			StepsInFrame:    jp.StepsInFrame,
		},
		Tail: ShotTail{TailVersion: jp.TailVersion},
	}
	for _, f := range jp.Frames {
		frames.Steps = append(frames.Steps, ShotFrame{
			Index: f.Index, FlagsRaw: f.Flags, TargetRaw: f.Target,
			TimeRaw: f.TimeRaw, TriggerRaw: f.TriggerRaw,
		})
	}
	for _, e := range jp.ExtFrames {
		frames.ExtSteps = append(frames.ExtSteps, ShotExtFrame{
			Index: e.Index, MaxVolume: e.MaxVolume,
		})
	}
	return frames, nil
}
