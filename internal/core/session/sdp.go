package session

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

const (
	opusCodec = "opus"
	dtxParam  = "usedtx=1"
)

// transformOffer rewrites the audio sections of an offer. forceCodec keeps
// only the payload types of that codec (left untouched if the offer has
// none of it); opusDTX enables discontinuous transmission on opus.
func transformOffer(raw, forceCodec string, opusDTX bool) (string, error) {
	if forceCodec == "" && !opusDTX {
		return raw, nil
	}

	if !strings.HasPrefix(raw, "v=") {
		return "", fmt.Errorf("parse offer: missing version line")
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return "", fmt.Errorf("parse offer: %w", err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return "", fmt.Errorf("parse offer: no media sections")
	}

	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		codecs := payloadCodecs(md)
		if forceCodec != "" {
			keepCodec(md, codecs, forceCodec)
		}
		if opusDTX {
			enableDTX(md, codecs)
		}
	}

	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal offer: %w", err)
	}
	return string(out), nil
}

// payloadCodecs maps payload type to lower-cased codec name from rtpmap lines.
func payloadCodecs(md *sdp.MediaDescription) map[string]string {
	codecs := make(map[string]string)
	for _, attr := range md.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		pt, rest := splitPayload(attr.Value)
		name, _, _ := strings.Cut(rest, "/")
		codecs[pt] = strings.ToLower(name)
	}
	return codecs
}

func keepCodec(md *sdp.MediaDescription, codecs map[string]string, codec string) {
	codec = strings.ToLower(codec)
	keep := make(map[string]bool)
	for pt, name := range codecs {
		if name == codec {
			keep[pt] = true
		}
	}
	if len(keep) == 0 {
		return
	}

	formats := md.MediaName.Formats[:0]
	for _, pt := range md.MediaName.Formats {
		if keep[pt] {
			formats = append(formats, pt)
		}
	}
	md.MediaName.Formats = formats

	attrs := md.Attributes[:0]
	for _, attr := range md.Attributes {
		switch attr.Key {
		case "rtpmap", "fmtp", "rtcp-fb":
			pt, _ := splitPayload(attr.Value)
			if !keep[pt] {
				continue
			}
		}
		attrs = append(attrs, attr)
	}
	md.Attributes = attrs
}

func enableDTX(md *sdp.MediaDescription, codecs map[string]string) {
	for pt, name := range codecs {
		if name != opusCodec {
			continue
		}
		found := false
		for i, attr := range md.Attributes {
			if attr.Key != "fmtp" {
				continue
			}
			fpt, params := splitPayload(attr.Value)
			if fpt != pt {
				continue
			}
			found = true
			if !strings.Contains(params, dtxParam) {
				md.Attributes[i].Value = attr.Value + ";" + dtxParam
			}
		}
		if !found {
			md.WithValueAttribute("fmtp", pt+" "+dtxParam)
		}
	}
}

func splitPayload(value string) (string, string) {
	pt, rest, _ := strings.Cut(value, " ")
	return pt, rest
}
