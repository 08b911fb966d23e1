// Package gate holds the credential entry step that precedes the call widget.
package gate

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

type Mode string

const (
	ModeUnconfigured Mode = "unconfigured"
	ModeConfigured   Mode = "configured"
)

var (
	ErrEmptyCredential   = errors.New("credential is empty")
	ErrAlreadyConfigured = errors.New("already configured")
)

// Gate collects a credential and flips the application into configured mode.
// The credential lives only in memory.
type Gate struct {
	mu         sync.Mutex
	mode       Mode
	input      string
	credential string
}

func New() *Gate { return &Gate{mode: ModeUnconfigured} }

// SetInput replaces the free-text input. It is ignored once configured.
func (g *Gate) SetInput(s string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mode == ModeConfigured {
		return
	}
	g.input = s
}

func (g *Gate) Input() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.input
}

// CanCommit reports whether the commit action is enabled.
func (g *Gate) CanCommit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode == ModeUnconfigured && strings.TrimSpace(g.input) != ""
}

// Commit moves to configured mode and returns the credential exactly as typed.
func (g *Gate) Commit() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mode == ModeConfigured {
		return "", ErrAlreadyConfigured
	}
	if strings.TrimSpace(g.input) == "" {
		return "", ErrEmptyCredential
	}
	g.credential = g.input
	g.mode = ModeConfigured
	return g.credential, nil
}

// Reset forgets the credential, clears the input and returns to unconfigured.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mode = ModeUnconfigured
	g.input = ""
	g.credential = ""
}

func (g *Gate) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

func (g *Gate) Credential() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.credential
}
