package session

import "github.com/pion/webrtc/v3"

// iceCollection holds the local candidates gathered so far, in arrival
// order, and the component ids seen per foundation.
type iceCollection struct {
	candidates []*webrtc.ICECandidate
	components map[string]map[uint16]struct{}
}

func newIceCollection() *iceCollection {
	return &iceCollection{components: make(map[string]map[uint16]struct{})}
}

// add appends c and reports whether its foundation has now been seen with
// two different component ids. That usually means the RTP and RTCP
// candidates of one relay are both in, which is treated as a hint that
// gathering has converged. It is not a guarantee.
func (ic *iceCollection) add(c *webrtc.ICECandidate) bool {
	ic.candidates = append(ic.candidates, c)

	seen, ok := ic.components[c.Foundation]
	if !ok {
		seen = make(map[uint16]struct{})
		ic.components[c.Foundation] = seen
	}
	seen[c.Component] = struct{}{}
	return len(seen) >= 2
}

func (ic *iceCollection) len() int {
	return len(ic.candidates)
}

func (ic *iceCollection) inits() []webrtc.ICECandidateInit {
	out := make([]webrtc.ICECandidateInit, 0, len(ic.candidates))
	for _, c := range ic.candidates {
		out = append(out, c.ToJSON())
	}
	return out
}
