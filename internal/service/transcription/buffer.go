package transcription

import (
	"context"
	"strings"
	"time"
)

// ~200ms of 16kHz 16-bit mono audio per frame.
const bufferChunkSize = 6400

// TranscribeBuffer runs a finite audio buffer through a short-lived realtime
// link and returns the concatenated final transcript. It backs the one-shot
// HTTP transcription endpoint.
func (c *Client) TranscribeBuffer(ctx context.Context, sessionID string, audio []byte) (string, error) {
	stream, err := c.Open(ctx, sessionID)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	go func() {
		for off := 0; off < len(audio); off += bufferChunkSize {
			end := off + bufferChunkSize
			if end > len(audio) {
				end = len(audio)
			}
			if err := stream.SendAudio(audio[off:end]); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
		// Half-close: ask the upstream to flush remaining finals.
		stream.Close()
	}()

	var parts []string
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-stream.Events():
			if !ok {
				return strings.Join(parts, " "), nil
			}
			switch ev.Kind {
			case KindFinal:
				parts = append(parts, ev.Text)
			case KindClosed:
				if ev.Err != nil && len(parts) == 0 {
					return "", ev.Err
				}
			}
		}
	}
}
