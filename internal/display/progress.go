package display

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a status line while a long operation runs. On a
// non-terminal writer it prints each distinct message once instead.
type Spinner struct {
	writer      io.Writer
	colors      ColorSystem
	theme       ColorTheme
	interactive bool
	delay       time.Duration

	mu      sync.Mutex
	message string
	last    string
	active  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSpinner creates a spinner. interactive selects the animated mode.
func (p *Printer) NewSpinner(interactive bool) *Spinner {
	return &Spinner{
		writer:      p.writer,
		colors:      p.colors,
		theme:       p.theme,
		interactive: interactive && !p.config.Quiet && !p.Structured(),
		delay:       80 * time.Millisecond,
	}
}

// Start begins the animation
func (s *Spinner) Start(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
	if s.active || !s.interactive {
		s.printOnce(message)
		return
	}
	s.active = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.animate()
}

// Update changes the message
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
	if !s.interactive {
		s.printOnce(message)
	}
}

// Stop ends the animation and clears the line
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
	fmt.Fprint(s.writer, "\r\033[K")
}

// printOnce must be called with mu held
func (s *Spinner) printOnce(message string) {
	if s.interactive || message == s.last || message == "" {
		return
	}
	s.last = message
	fmt.Fprintln(s.writer, message)
}

func (s *Spinner) animate() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.delay)
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			msg := s.message
			s.mu.Unlock()
			glyph := spinnerFrames[frame%len(spinnerFrames)]
			if s.colors != nil {
				glyph = s.colors.Colorize(glyph, s.theme.Primary)
			}
			fmt.Fprintf(s.writer, "\r\033[K%s %s", glyph, msg)
		}
	}
}
