package voice

import (
	"context"
	"sync"
	"time"
)

// previewLoop periodically snapshots the in-progress capture buffer and
// merges preview transcriptions into an accumulated hint, without ever
// touching the session timeline or emitting chat. It is purely advisory
// input to the final transcription request (spec §4.4).
type previewLoop struct {
	done   chan struct{}
	result chan string

	mu   sync.Mutex
	text string
}

// startPreviewLoop launches the loop; it stops on its own when ctx is
// cancelled, or earlier via stop/stopAndDrain.
func startPreviewLoop(ctx context.Context, capture Capture, asr Transcriber, sessionID string) *previewLoop {
	pl := &previewLoop{done: make(chan struct{}), result: make(chan string, 1)}

	go func() {
		timer := time.NewTimer(previewInitialDelay)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				pl.finish()
				return
			case <-pl.done:
				pl.finish()
				return
			case <-timer.C:
				clip := capture.Snapshot()
				if len(clip) > 0 {
					text, err := asr.Transcribe(ctx, TranscribeRequest{
						SessionID: "preview-" + sessionID,
						Audio:     clip,
						Preview:   true,
					})
					if err == nil {
						pl.mu.Lock()
						pl.text = mergePreview(pl.text, text)
						pl.mu.Unlock()
					}
				}
				timer.Reset(previewCadence)
			}
		}
	}()

	return pl
}

func (pl *previewLoop) finish() {
	pl.mu.Lock()
	text := pl.text
	pl.mu.Unlock()
	select {
	case pl.result <- text:
	default:
	}
}

// stop signals the loop to exit without waiting for it (spec: Shutup
// "stops the preview loop without waiting").
func (pl *previewLoop) stop() {
	select {
	case <-pl.done:
	default:
		close(pl.done)
	}
}

// stopAndDrain signals the loop to exit and waits up to budget for its
// final accumulated hint, returning "" if the budget elapses first.
func (pl *previewLoop) stopAndDrain(budget time.Duration) string {
	pl.stop()
	select {
	case text := <-pl.result:
		return text
	case <-time.After(budget):
		return ""
	}
}
