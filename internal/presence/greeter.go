package presence

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/openfridge/fridge/internal/clock"
)

const GreetCooldown = 10 * time.Second

var greetings = map[string][]string{
	"morning": {
		"Good morning! Welcome.",
		"Rise and shine! What can I get you?",
		"Morning! Ready for a treat?",
	},
	"afternoon": {
		"Good afternoon! Welcome.",
		"Hey there! Need a pick-me-up?",
		"Afternoon! What sounds good?",
	},
	"evening": {
		"Good evening! Welcome.",
		"Hey! Grab something for the night.",
		"Evening! What can I get you?",
	},
}

func TimeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h < 12:
		return "morning"
	case h < 17:
		return "afternoon"
	default:
		return "evening"
	}
}

// Greeter speaks at most once per idle period and never twice within
// GreetCooldown, even across a Reset.
type Greeter struct {
	clock clock.Clock
	speak func(text string)
	pick  func(n int) int

	mu     sync.Mutex
	spoken bool
	lastAt time.Time
}

// NewGreeter calls speak with the chosen line. speak may be nil.
func NewGreeter(c clock.Clock, speak func(text string)) *Greeter {
	return &Greeter{clock: c, speak: speak, pick: rand.Intn}
}

// Greet returns the greeting and true when one was spoken.
func (g *Greeter) Greet(machineName string) (string, bool) {
	g.mu.Lock()
	now := g.clock.Now()
	if g.spoken || (!g.lastAt.IsZero() && now.Sub(g.lastAt) < GreetCooldown) {
		g.mu.Unlock()
		return "", false
	}
	g.spoken = true
	g.lastAt = now
	lines := greetings[TimeOfDay(now)]
	text := lines[g.pick(len(lines))]
	g.mu.Unlock()

	if machineName != "" {
		text = strings.Replace(text, "Welcome.", "Welcome to "+machineName+".", 1)
	}
	if g.speak != nil {
		g.speak(text)
	}
	return text, true
}

// Reset starts a new idle period.
func (g *Greeter) Reset() {
	g.mu.Lock()
	g.spoken = false
	g.mu.Unlock()
}
