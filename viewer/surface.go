package viewer

import (
	"context"
	"sync"
	"time"

	goutils "go.viam.com/utils"

	"go.viam.com/rgbdview/rimage"
)

// DiscardSurface drops every image. It is used when running headless.
type DiscardSurface struct{}

// Present does nothing.
func (DiscardSurface) Present(ctx context.Context, name string, img *rimage.Image) error {
	return nil
}

// RecordingSurface counts the images presented per window and keeps the latest one.
type RecordingSurface struct {
	mu     sync.Mutex
	counts map[string]int
	last   map[string]*rimage.Image
}

// NewRecordingSurface returns an empty RecordingSurface.
func NewRecordingSurface() *RecordingSurface {
	return &RecordingSurface{counts: map[string]int{}, last: map[string]*rimage.Image{}}
}

// Present records img.
func (s *RecordingSurface) Present(ctx context.Context, name string, img *rimage.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[name]++
	s.last[name] = img
	return nil
}

// Count returns how many images were presented in window name.
func (s *RecordingSurface) Count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[name]
}

// Last returns the latest image presented in window name.
func (s *RecordingSurface) Last(name string) (*rimage.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.last[name]
	return img, ok
}

// NoKeys never reports a key press. It waits out the poll interval like a keyboard would.
type NoKeys struct{}

// PollKey waits for wait or until ctx is done and reports nothing.
func (NoKeys) PollKey(ctx context.Context, wait time.Duration) (rune, bool) {
	goutils.SelectContextOrWait(ctx, wait)
	return 0, false
}

// ScriptedKeys reports preset keys at given poll counts, without waiting.
type ScriptedKeys struct {
	mu     sync.Mutex
	polls  int
	script map[int]rune
}

// QuitAfter returns a KeyPoller that presses key on the n-th poll.
func QuitAfter(n int, key rune) *ScriptedKeys {
	return &ScriptedKeys{script: map[int]rune{n: key}}
}

// PollKey reports the key scripted for this poll, if any.
func (k *ScriptedKeys) PollKey(ctx context.Context, wait time.Duration) (rune, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.polls++
	key, ok := k.script[k.polls]
	return key, ok
}

// Polls returns the number of polls so far.
func (k *ScriptedKeys) Polls() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.polls
}
