package rtc

import (
	"strings"

	"github.com/pion/sdp/v3"
)

// InactiveMIDs lists the mids an offer disables, either with a zero port
// or an inactive direction.
func InactiveMIDs(raw string) ([]string, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return nil, err
	}
	var mids []string
	for _, m := range sd.MediaDescriptions {
		mid, ok := m.Attribute(sdp.AttrKeyMID)
		if !ok {
			continue
		}
		if _, inactive := m.Attribute(sdp.AttrKeyInactive); inactive || m.MediaName.Port.Value == 0 {
			mids = append(mids, mid)
		}
	}
	return mids, nil
}

// RejectMedia zeroes the port of every m-line of the given media type
// and drops their mids from the BUNDLE group. The description is returned
// unchanged when no m-line matches.
func RejectMedia(raw, media string) (string, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return "", err
	}
	rejected := make(map[string]bool)
	for _, m := range sd.MediaDescriptions {
		if m.MediaName.Media != media {
			continue
		}
		m.MediaName.Port = sdp.RangedPort{Value: 0}
		if mid, ok := m.Attribute(sdp.AttrKeyMID); ok {
			rejected[mid] = true
		}
	}
	if len(rejected) == 0 {
		return raw, nil
	}
	for i, a := range sd.Attributes {
		if a.Key != sdp.AttrKeyGroup {
			continue
		}
		fields := strings.Fields(a.Value)
		kept := fields[:0]
		for _, f := range fields {
			if !rejected[f] {
				kept = append(kept, f)
			}
		}
		sd.Attributes[i].Value = strings.Join(kept, " ")
	}
	out, err := sd.Marshal()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
