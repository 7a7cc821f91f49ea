package client

import (
	"sync"
	"time"
)

const defaultStatsInterval = time.Second

// LinkStats is a snapshot of the transport's receive-side counters.
// Every field is best-effort: a transport that does not measure a
// quantity leaves it zero and the derived term is skipped.
type LinkStats struct {
	HasInbound    bool
	BytesReceived uint64
	JitterSec     float64

	HasRTT bool
	RTTSec float64

	TotalDecodeSec float64
	FramesDecoded  uint64
}

// Sample is one derived link-quality reading.
type Sample struct {
	Width, Height int
	HasSize       bool

	FrameRate    float64
	HasFrameRate bool

	// BitrateBPS is bits per second derived from consecutive byte
	// counter readings. Absent on the first poll, which only
	// establishes the baseline.
	BitrateBPS float64
	HasBitrate bool

	// LatencyMS is an approximate end-to-end estimate: jitter plus
	// remote round-trip time plus average per-frame decode time,
	// whichever of the three are reported.
	LatencyMS  float64
	HasLatency bool
}

// statsMeter turns cumulative counters into rates. It keeps only the
// previous reading.
type statsMeter struct {
	baseline   bool
	lastBytes  uint64
	lastFrames uint64
	lastAt     time.Time
}

func (m *statsMeter) sample(now time.Time, st LinkStats, haveStats bool, framesRendered uint64) Sample {
	var out Sample

	if haveStats && st.HasInbound {
		latency := st.JitterSec
		if st.HasRTT {
			latency += st.RTTSec
		}
		if st.FramesDecoded > 0 && st.TotalDecodeSec > 0 {
			latency += st.TotalDecodeSec / float64(st.FramesDecoded)
		}
		out.LatencyMS = latency * 1000
		out.HasLatency = true
	}

	if m.baseline {
		dt := now.Sub(m.lastAt).Seconds()
		if dt > 0 {
			if haveStats && st.HasInbound && st.BytesReceived >= m.lastBytes {
				out.BitrateBPS = float64(st.BytesReceived-m.lastBytes) * 8 / dt
				out.HasBitrate = true
			}
			if framesRendered >= m.lastFrames {
				out.FrameRate = float64(framesRendered-m.lastFrames) / dt
				out.HasFrameRate = true
			}
		}
	}

	m.baseline = true
	m.lastAt = now
	if haveStats && st.HasInbound {
		m.lastBytes = st.BytesReceived
	}
	m.lastFrames = framesRendered

	return out
}

// StatsMonitor polls a connected session's transport counters once per
// interval and reports derived quantities. It runs until Stop, which
// waits for the polling goroutine to exit so no tick can fire against
// a released connection.
type StatsMonitor struct {
	conn     MediaConn
	sink     RenderSink
	interval time.Duration
	onSample func(Sample)

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewStatsMonitor(conn MediaConn, sink RenderSink, interval time.Duration, onSample func(Sample)) *StatsMonitor {
	if interval <= 0 {
		interval = defaultStatsInterval
	}
	return &StatsMonitor{
		conn:     conn,
		sink:     sink,
		interval: interval,
		onSample: onSample,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (m *StatsMonitor) Start() {
	if m.started {
		return
	}
	m.started = true
	go m.loop()
}

// Stop cancels polling and blocks until the loop has exited. Safe to
// call more than once, and a no-op if the monitor never started.
func (m *StatsMonitor) Stop() {
	if !m.started {
		return
	}
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *StatsMonitor) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var meter statsMeter
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			st, ok := m.conn.LinkStats()
			var frames uint64
			if m.sink != nil {
				frames = m.sink.FramesRendered()
			}
			sample := meter.sample(now, st, ok, frames)
			if m.sink != nil {
				if w, h, sizeOK := m.sink.FrameSize(); sizeOK {
					sample.Width, sample.Height, sample.HasSize = w, h, true
				}
			}
			if m.onSample != nil {
				m.onSample(sample)
			}
		}
	}
}
