package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/blink-sensor/internal/acquire"
	"github.com/sweeney/blink-sensor/internal/annotate"
	"github.com/sweeney/blink-sensor/internal/logic"
	"github.com/sweeney/blink-sensor/internal/mqtt"
	"github.com/sweeney/blink-sensor/internal/recording"
	"github.com/sweeney/blink-sensor/internal/status"
)

// blinkPublisher receives every detected blink.
type blinkPublisher interface {
	Publish(event logic.BlinkEvent) error
}

// droppedCounter is implemented by sources that discard malformed input.
type droppedCounter interface {
	Dropped() int
}

// session wires the detector to its collaborators for one recording.
// Optional collaborators may be nil.
type session struct {
	source    acquire.Source
	detector  *logic.Detector
	counter   *annotate.Counter
	mode      annotate.Mode
	recording *recording.Session

	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	live       blinkPublisher
	markers    annotate.Sink
	tracker    *status.Tracker
	network    func() *status.NetworkInfo

	warmup        time.Duration
	duration      time.Duration // 0 runs until stopped
	heartbeat     time.Duration
	maxReadErrors int
	outDir        string
}

// runLoop reads one frame per tick until the session ends. The recording is
// saved on every exit path, including an aborted acquisition.
func (s *session) runLoop(now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal, done <-chan struct{}) error {
	startTime := now()
	readErrors := 0
	phase := status.PhaseWarmup
	if s.warmup <= 0 {
		phase = status.PhaseAnalyzing
	}
	s.setPhase(phase)

	for {
		select {
		case sg := <-sig:
			slog.Info("received signal, shutting down", "signal", sg)
			return s.shutdown(now(), signalName(sg), nil)

		case <-done:
			return s.shutdown(now(), "CANCELLED", nil)

		case <-tick:
			t := now()
			elapsed := t.Sub(startTime)

			if s.duration > 0 && elapsed >= s.warmup+s.duration {
				return s.shutdown(t, "DURATION", nil)
			}

			frame, err := s.source.Read()
			if errors.Is(err, io.EOF) {
				slog.Info("acquisition stream ended")
				return s.shutdown(t, "EOF", nil)
			}
			if err != nil {
				readErrors++
				slog.Warn("acquisition read failed", "err", err, "consecutive", readErrors)
				if readErrors >= s.maxReadErrors {
					err = fmt.Errorf("acquisition failed after %d consecutive errors: %w", readErrors, err)
					return s.shutdown(t, "READ_ERROR", err)
				}
				continue
			}
			readErrors = 0

			if s.recording != nil {
				s.recording.Append(frame)
			}

			if elapsed < s.warmup {
				s.updateTracker()
				continue
			}
			if phase == status.PhaseWarmup {
				phase = status.PhaseAnalyzing
				s.detector.Reset()
				s.setPhase(phase)
				slog.Info("warmup complete, analysing", "channels", len(s.detector.Channels()))
			}

			s.analyse(frame, t)

			if s.mode.Ticks() {
				s.annotate(s.counter.Next(annotate.KindTick, "", t))
			}

			if hb := s.detector.CheckHeartbeat(t, s.heartbeat); hb != nil {
				s.publishHeartbeat(hb)
			}

			s.updateTracker()
		}
	}
}

// analyse runs every ready channel of the frame through the detector.
func (s *session) analyse(frame acquire.Frame, t time.Time) {
	if frame.Len() == 0 {
		slog.Debug("empty frame, nothing to analyse")
		return
	}
	capturedAt := frame.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = t
	}

	for _, ch := range s.detector.Channels() {
		if !s.detector.Ready(ch.Label, t) {
			continue
		}

		events, err := s.detector.ProcessBlock(logic.SampleBlock{
			Channel:    ch.Label,
			Samples:    frame.Samples(ch.Index),
			SampleRate: frame.SampleRate,
			CapturedAt: capturedAt,
		})
		if err != nil {
			slog.Warn("block rejected", "channel", ch.Label, "err", err)
			continue
		}
		if st, ok := s.detector.RunState(ch.Label); ok {
			slog.Debug("block analysed", "channel", ch.Label, "samples", frame.Len(),
				"run", st.Count, "active", st.Active, "events", len(events))
		}

		for _, event := range events {
			slog.Info("blink", "channel", event.Channel, "at", event.DetectedAt)
			if s.publisher != nil {
				if err := s.publisher.Publish(event); err != nil {
					slog.Warn("publish error", "err", err)
				}
			}
			if s.live != nil {
				if err := s.live.Publish(event); err != nil {
					slog.Warn("live publish error", "err", err)
				}
			}
			if s.mode.Blinks() {
				s.annotate(s.counter.Next(annotate.KindBlink, event.Channel, event.DetectedAt))
			}
		}
	}
}

func (s *session) annotate(m annotate.Marker) {
	slog.Debug("annotation", "marker", m.Label())
	if s.recording != nil {
		s.recording.Annotate(m)
	}
	if s.markers != nil {
		if err := s.markers.Annotate(m); err != nil {
			slog.Warn("annotation sink error", "marker", m.Index, "err", err)
		}
	}
}

func (s *session) publishHeartbeat(hb *logic.HeartbeatData) {
	slog.Info("heartbeat", "uptime", hb.Uptime, "blinks", hb.Counts.Total)

	event := mqtt.SystemEvent{
		Timestamp: hb.Timestamp,
		Event:     "HEARTBEAT",
	}
	if s.tracker != nil {
		if s.network != nil {
			if net := s.network(); net != nil {
				s.tracker.SetNetwork(net)
			}
		}
		s.updateTracker()
		event.RawPayload = status.FormatStatusEvent(s.tracker.Snapshot(), "HEARTBEAT", "")
	}
	if s.publisher != nil {
		if err := s.publisher.PublishSystem(event); err != nil {
			slog.Warn("heartbeat publish error", "err", err)
		}
	}
}

// shutdown publishes the SHUTDOWN event and saves the recording. cause is
// returned, joined with any save failure.
func (s *session) shutdown(t time.Time, reason string, cause error) error {
	s.setPhase(status.PhaseStopped)
	s.updateTracker()

	event := mqtt.SystemEvent{
		Timestamp: t,
		Event:     "SHUTDOWN",
		Reason:    reason,
		Retained:  true,
	}
	if s.tracker != nil {
		event.RawPayload = status.FormatStatusEvent(s.tracker.Snapshot(), "SHUTDOWN", reason)
	}
	if s.publisher != nil {
		if err := s.publisher.PublishSystem(event); err != nil {
			slog.Warn("failed to publish shutdown event", "err", err)
		}
	}

	counts := s.detector.EventCountsSnapshot()
	slog.Info("session ended", "reason", reason, "blinks", counts.Total, "annotations", s.counter.Last())

	if s.recording == nil {
		return cause
	}
	path, err := s.recording.Save(s.outDir, t)
	if err != nil {
		return errors.Join(cause, fmt.Errorf("save recording: %w", err))
	}
	slog.Info("recording saved", "path", path, "samples", s.recording.Samples(), "markers", len(s.recording.Markers()))
	return cause
}

func (s *session) setPhase(p status.Phase) {
	if s.tracker != nil {
		s.tracker.SetPhase(p)
	}
}

func (s *session) updateTracker() {
	if s.tracker == nil {
		return
	}
	channels := s.detector.Channels()
	states := make([]status.ChannelStatus, len(channels))
	for i, ch := range channels {
		states[i] = status.ChannelStatus{Label: ch.Label, State: s.detector.State(ch.Label)}
	}
	samples := 0
	if s.recording != nil {
		samples = s.recording.Samples()
	}
	s.tracker.Update(states, s.detector.EventCountsSnapshot(), s.counter.Last(), samples)
	if d, ok := s.source.(droppedCounter); ok {
		s.tracker.SetDropped(d.Dropped())
	}
	if s.mqttStatus != nil {
		s.tracker.SetMQTTConnected(s.mqttStatus.IsConnected())
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
