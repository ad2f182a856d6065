package voice

import (
	"testing"
	"time"
)

func TestTimelineMarksAreIdempotentFirstWriterWins(t *testing.T) {
	base := time.Now()
	tl := NewTimeline("s1", base)

	if !tl.MarkFirstAudioFrame(base.Add(time.Millisecond)) {
		t.Fatal("expected first mark to succeed")
	}
	if tl.MarkFirstAudioFrame(base.Add(time.Hour)) {
		t.Fatal("expected second mark to be rejected")
	}

	snap := tl.Snapshot()
	if !snap.FirstAudioFrameAt.Equal(base.Add(time.Millisecond)) {
		t.Fatalf("firstAudioFrameAt = %v, want the first-written value", snap.FirstAudioFrameAt)
	}
}

func TestTimelineStagesMonotonic(t *testing.T) {
	base := time.Now()
	tl := NewTimeline("s1", base)
	tl.MarkFirstAudioFrame(base.Add(1 * time.Millisecond))
	tl.MarkMicReleased(base.Add(2 * time.Millisecond))
	tl.MarkASRStarted(base.Add(3 * time.Millisecond))
	tl.MarkTranscriptReady(base.Add(4 * time.Millisecond))
	tl.MarkAgentStarted(base.Add(5 * time.Millisecond))
	tl.MarkAgentReady(base.Add(6 * time.Millisecond))
	tl.MarkTTSStarted(base.Add(7 * time.Millisecond))
	tl.MarkSpeakingStarted(base.Add(8 * time.Millisecond))

	if !tl.Snapshot().Monotonic() {
		t.Fatal("expected fully ordered stage stamps to be monotonic")
	}
}

func TestTimelineDetectsOutOfOrderStages(t *testing.T) {
	base := time.Now()
	tl := NewTimeline("s1", base)
	tl.MarkFirstAudioFrame(base.Add(5 * time.Millisecond))
	tl.MarkMicReleased(base.Add(1 * time.Millisecond))

	if tl.Snapshot().Monotonic() {
		t.Fatal("expected out-of-order stamps to be reported as non-monotonic")
	}
}

func TestTimelineUserAndAgentMessageSlotsAreExactlyOnce(t *testing.T) {
	tl := NewTimeline("s1", time.Now())

	if !tl.TakeUserMessageSlot() {
		t.Fatal("expected first TakeUserMessageSlot to succeed")
	}
	if tl.TakeUserMessageSlot() {
		t.Fatal("expected second TakeUserMessageSlot to fail")
	}
	if !tl.TakeAgentMessageSlot() {
		t.Fatal("expected first TakeAgentMessageSlot to succeed")
	}
	if tl.TakeAgentMessageSlot() {
		t.Fatal("expected second TakeAgentMessageSlot to fail")
	}
}
