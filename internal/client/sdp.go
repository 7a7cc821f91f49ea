package client

import (
	"strconv"
	"strings"
)

// maxVideoKbps is the advertised bitrate ceiling written into the
// video section. The remote side may ignore it.
const maxVideoKbps = 2500

// MutateSDP biases a session description toward low latency. It is a
// best-effort text patch applied to the video media section only, in
// this order: drop any pre-existing feedback declarations, tag the
// section as main content, request transport-wide congestion control
// feedback, and cap the advertised bitrate. Both sides run the same
// mutation on whatever description they produce; unsupported
// directives are simply ignored by the remote.
func MutateSDP(sdp string) string {
	lines := splitSDPLines(sdp)

	out := make([]string, 0, len(lines)+3)
	inVideo := false
	for _, line := range lines {
		if strings.HasPrefix(line, "m=") {
			if inVideo {
				out = appendVideoAttrs(out)
			}
			inVideo = strings.HasPrefix(line, "m=video")
			out = append(out, line)
			if inVideo {
				out = append(out, "b=AS:"+strconv.Itoa(maxVideoKbps))
			}
			continue
		}
		if inVideo {
			// Strip feedback lines so the re-added transport-cc line
			// cannot conflict with pre-existing declarations.
			if strings.HasPrefix(line, "a=rtcp-fb:") {
				continue
			}
			// A c= line must precede b=, move our cap below it.
			if strings.HasPrefix(line, "c=") {
				out = insertAfterMLine(out, line)
				continue
			}
		}
		out = append(out, line)
	}
	if inVideo {
		out = appendVideoAttrs(out)
	}

	return strings.Join(out, "\r\n") + "\r\n"
}

func appendVideoAttrs(out []string) []string {
	return append(out,
		"a=content:main",
		"a=rtcp-fb:* transport-cc",
	)
}

// insertAfterMLine places a c= line directly after the last m= line,
// before the bandwidth cap that was appended right after it.
func insertAfterMLine(out []string, cLine string) []string {
	for i := len(out) - 1; i >= 0; i-- {
		if strings.HasPrefix(out[i], "m=") {
			out = append(out, "")
			copy(out[i+2:], out[i+1:])
			out[i+1] = cLine
			return out
		}
	}
	return append(out, cLine)
}

func splitSDPLines(sdp string) []string {
	sdp = strings.ReplaceAll(sdp, "\r\n", "\n")
	sdp = strings.TrimRight(sdp, "\n")
	return strings.Split(sdp, "\n")
}
