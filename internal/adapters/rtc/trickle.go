package rtc

import (
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// CandidatesFromSDP extracts every a=candidate line of a description so a
// refreshed description can be applied as trickled candidates.
func CandidatesFromSDP(raw string) ([]webrtc.ICECandidateInit, error) {
	var desc sdp.SessionDescription
	if err := desc.UnmarshalString(raw); err != nil {
		return nil, fmt.Errorf("parse sdp: %w", err)
	}

	var out []webrtc.ICECandidateInit
	for i, md := range desc.MediaDescriptions {
		index := uint16(i)
		mid, hasMid := md.Attribute("mid")
		for _, attr := range md.Attributes {
			if !attr.IsICECandidate() {
				continue
			}
			ci := webrtc.ICECandidateInit{
				Candidate:     "candidate:" + attr.Value,
				SDPMLineIndex: &index,
			}
			if hasMid {
				m := mid
				ci.SDPMid = &m
			}
			out = append(out, ci)
		}
	}
	return out, nil
}
