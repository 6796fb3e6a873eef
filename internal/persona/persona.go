// Package persona holds the fixed identity the assistant adopts. A Persona is
// built once at startup and passed by value into every widget.
package persona

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"folioassist/internal/config"
)

//go:embed default_instructions.txt
var defaultInstructions string

const (
	DefaultName     = "Younes Hammou"
	DefaultGreeting = "Hi! 👋 I'm Younes's AI assistant. Feel free to ask me about his skills, projects, experience, or anything else you'd like to know!"
	DefaultFallback = "I'm sorry, I encountered an error. Please try again or contact Younes directly via email."
)

var defaultSuggestions = []string{
	"What are Younes's main skills?",
	"Tell me about his projects",
	"What's his experience?",
	"Is he available for work?",
}

// Persona is the system instruction plus the canned texts the widget shows.
// Greeting may be empty, in which case no local greeting is injected.
type Persona struct {
	Name         string
	Instructions string
	Greeting     string
	Fallback     string
	suggestions  []string
}

// Default returns the built-in persona.
func Default() Persona {
	return Persona{
		Name:         DefaultName,
		Instructions: strings.TrimSpace(defaultInstructions),
		Greeting:     DefaultGreeting,
		Fallback:     DefaultFallback,
		suggestions:  append([]string(nil), defaultSuggestions...),
	}
}

// WithSuggestions returns a copy of p carrying the given quick actions.
func (p Persona) WithSuggestions(s []string) Persona {
	cleaned := make([]string, 0, len(s))
	for _, q := range s {
		if q = strings.TrimSpace(q); q != "" {
			cleaned = append(cleaned, q)
		}
	}
	p.suggestions = cleaned
	return p
}

// Suggestions returns a copy of the quick-action questions.
func (p Persona) Suggestions() []string {
	return append([]string{}, p.suggestions...)
}

// Validate checks the fields every widget relies on.
func (p Persona) Validate() error {
	if strings.TrimSpace(p.Instructions) == "" {
		return errors.New("persona instructions cannot be empty")
	}
	if strings.TrimSpace(p.Fallback) == "" {
		return errors.New("persona fallback text cannot be empty")
	}
	return nil
}

// FromConfig overlays configured values on the default persona. Instructions
// come from instructions_path when set, then from the inline text.
func FromConfig(ctx context.Context, cfg config.PersonaConfig) (Persona, error) {
	p := Default()
	if cfg.Name != "" {
		p.Name = cfg.Name
	}
	switch {
	case cfg.InstructionsPath != "":
		text, err := LoadInstructions(ctx, cfg.InstructionsPath)
		if err != nil {
			return Persona{}, fmt.Errorf("load persona instructions: %w", err)
		}
		p.Instructions = text
	case strings.TrimSpace(cfg.Instructions) != "":
		p.Instructions = strings.TrimSpace(cfg.Instructions)
	}
	if cfg.Greeting != "" {
		p.Greeting = cfg.Greeting
	}
	if cfg.DisableGreeting {
		p.Greeting = ""
	}
	if cfg.Fallback != "" {
		p.Fallback = cfg.Fallback
	}
	if len(cfg.Suggestions) > 0 {
		p = p.WithSuggestions(cfg.Suggestions)
	}
	if err := p.Validate(); err != nil {
		return Persona{}, err
	}
	return p, nil
}
