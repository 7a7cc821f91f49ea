package client

import (
	"strings"
	"testing"
)

const sampleSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=rtcp-fb:111 nack\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:96 H264/90000\r\n" +
	"a=rtcp-fb:96 nack\r\n" +
	"a=rtcp-fb:96 nack pli\r\n" +
	"a=rtcp-fb:96 goog-remb\r\n"

func videoSection(t *testing.T, sdp string) string {
	t.Helper()
	idx := strings.Index(sdp, "m=video")
	if idx < 0 {
		t.Fatal("no video section")
	}
	return sdp[idx:]
}

func TestMutateSDPVideoSection(t *testing.T) {
	out := MutateSDP(sampleSDP)
	video := videoSection(t, out)

	if !strings.Contains(video, "a=content:main") {
		t.Error("video section not tagged as main content")
	}
	if !strings.Contains(video, "a=rtcp-fb:* transport-cc") {
		t.Error("transport-cc feedback not requested")
	}
	if !strings.Contains(video, "b=AS:2500") {
		t.Error("bitrate cap missing")
	}
}

func TestMutateSDPStripsPreexistingFeedback(t *testing.T) {
	out := MutateSDP(sampleSDP)
	video := videoSection(t, out)

	for _, stripped := range []string{
		"a=rtcp-fb:96 nack",
		"a=rtcp-fb:96 goog-remb",
	} {
		if strings.Contains(video, stripped) {
			t.Errorf("pre-existing feedback survived: %s", stripped)
		}
	}
	if strings.Count(video, "a=rtcp-fb:") != 1 {
		t.Errorf("expected exactly one feedback line, got:\n%s", video)
	}
}

func TestMutateSDPLeavesAudioAlone(t *testing.T) {
	out := MutateSDP(sampleSDP)
	audioEnd := strings.Index(out, "m=video")
	audio := out[:audioEnd]

	if !strings.Contains(audio, "a=rtcp-fb:111 nack") {
		t.Error("audio feedback was stripped")
	}
	if strings.Contains(audio, "b=AS:") || strings.Contains(audio, "a=content:main") {
		t.Error("video-only mutations leaked into the audio section")
	}
}

func TestMutateSDPBandwidthFollowsConnectionLine(t *testing.T) {
	out := MutateSDP(sampleSDP)
	video := videoSection(t, out)

	cIdx := strings.Index(video, "c=IN IP4")
	bIdx := strings.Index(video, "b=AS:2500")
	if cIdx < 0 || bIdx < 0 {
		t.Fatalf("missing lines in video section:\n%s", video)
	}
	if bIdx < cIdx {
		t.Errorf("b= line precedes c= line:\n%s", video)
	}
}

func TestMutateSDPWithoutVideoSection(t *testing.T) {
	audioOnly := "v=0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\na=rtcp-fb:111 nack\r\n"
	out := MutateSDP(audioOnly)

	if strings.Contains(out, "transport-cc") || strings.Contains(out, "b=AS:") {
		t.Errorf("mutations applied to audio-only description:\n%s", out)
	}
	if !strings.Contains(out, "a=rtcp-fb:111 nack") {
		t.Error("audio feedback lost")
	}
}

func TestMutateSDPVideoLast(t *testing.T) {
	// The video section closing the description still gets its
	// attributes appended.
	out := MutateSDP(sampleSDP)
	if !strings.HasSuffix(out, "a=rtcp-fb:* transport-cc\r\n") {
		t.Errorf("trailing video section missing appended attributes:\n%s", out)
	}
}
