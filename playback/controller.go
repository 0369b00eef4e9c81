package playback

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Speaker turns text into an audible utterance. Implementations cover the
// cloud voice service, the browser's on-device synthesizer and a local file
// sink; each is consumed strictly as "text in, playable audio out, or
// failure".
type Speaker interface {
	Speak(ctx context.Context, text string) (Utterance, error)
}

// Utterance is one in-flight piece of synthesized audio.
type Utterance interface {
	// Done is closed when playout finishes naturally.
	Done() <-chan struct{}
	// Stop halts playout. Stopping an already-stopped utterance must not
	// panic or block.
	Stop()
}

// NotifyFunc observes speaking-state transitions for a message id.
type NotifyFunc func(messageID string, speaking bool)

// Controller serializes tutor speech: two states, Idle and
// Playing(messageID). Requesting the message that is already playing stops
// it (toggle). Requesting a different message always stops the current
// utterance before the new one starts. There is no queueing.
type Controller struct {
	speaker Speaker
	logger  *zap.Logger
	notify  NotifyFunc

	mu      sync.Mutex
	playing string // message id, empty when idle
	current Utterance
	gen     uint64 // bumped on every stop; invalidates in-flight starts
}

func NewController(speaker Speaker, notify NotifyFunc, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notify == nil {
		notify = func(string, bool) {}
	}
	return &Controller{speaker: speaker, logger: logger, notify: notify}
}

// Playing returns the currently speaking message id, if any.
func (c *Controller) Playing() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing, c.playing != ""
}

// Play requests playback for a message. Toggle semantics: if that message
// is already playing it is stopped and the controller returns to Idle.
// Synthesis or playout failure returns the controller to Idle and surfaces
// the error; there is no retry.
func (c *Controller) Play(ctx context.Context, messageID, text string) error {
	c.mu.Lock()
	if c.playing == messageID && messageID != "" {
		stopped := c.stopLocked()
		c.mu.Unlock()
		if stopped != "" {
			c.notify(stopped, false)
		}
		return nil
	}
	stopped := c.stopLocked()
	c.gen++
	gen := c.gen
	c.playing = messageID
	c.mu.Unlock()

	if stopped != "" {
		c.notify(stopped, false)
	}

	speakable := SpeakableText(text)
	if speakable == "" {
		c.mu.Lock()
		if c.gen == gen {
			c.playing = ""
		}
		c.mu.Unlock()
		return nil
	}
	c.notify(messageID, true)

	utt, err := c.speaker.Speak(ctx, speakable)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.playing = ""
		}
		c.mu.Unlock()
		c.notify(messageID, false)
		return fmt.Errorf("playback: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen {
		// Superseded while synthesizing; the newer request owns the slot.
		c.mu.Unlock()
		utt.Stop()
		return nil
	}
	c.current = utt
	c.mu.Unlock()

	go c.watch(gen, messageID, utt)
	return nil
}

// watch returns the controller to Idle when the utterance finishes on its
// own.
func (c *Controller) watch(gen uint64, messageID string, utt Utterance) {
	<-utt.Done()
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.playing = ""
	c.current = nil
	c.mu.Unlock()
	c.notify(messageID, false)
}

// Stop halts any current playback. Idempotent: stopping an Idle controller
// does nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	stopped := c.stopLocked()
	c.mu.Unlock()
	if stopped != "" {
		c.notify(stopped, false)
	}
}

// stopLocked halts the current utterance and invalidates any in-flight
// start. Returns the message id that was playing, or empty.
func (c *Controller) stopLocked() string {
	stopped := c.playing
	if c.current != nil {
		c.current.Stop()
		c.current = nil
	}
	c.gen++
	c.playing = ""
	return stopped
}
