// Package console drives the view state from line commands and prints every
// snapshot change as one JSON line.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"chattersync/pkg/viewstate"
)

// Profiles is the directory surface the console needs beyond the
// orchestrator.
type Profiles interface {
	SavePushToken(ctx context.Context, token string) error
	RefreshPushToken(ctx context.Context) error
	UploadPhoto(ctx context.Context, r io.Reader, size int64, contentType string) (string, error)
}

type Config struct {
	View     *viewstate.Orchestrator
	Profiles Profiles
	In       io.Reader
	Out      io.Writer
	Logger   *slog.Logger
}

type Console struct {
	view     *viewstate.Orchestrator
	profiles Profiles
	in       io.Reader
	logger   *slog.Logger

	mu  sync.Mutex
	enc *json.Encoder
}

// Line is one line of output.
type Line struct {
	Scope string `json:"scope"`
	Phase string `json:"phase,omitempty"`
	State any    `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
	Info  string `json:"info,omitempty"`
}

var errQuit = errors.New("quit")

func New(cfg Config) (*Console, error) {
	if cfg.View == nil || cfg.Profiles == nil {
		return nil, errors.New("console: view and profiles are required")
	}
	if cfg.In == nil || cfg.Out == nil {
		return nil, errors.New("console: input and output are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		view:     cfg.View,
		profiles: cfg.Profiles,
		in:       cfg.In,
		logger:   logger,
		enc:      json.NewEncoder(cfg.Out),
	}, nil
}

// Run prints snapshots and executes commands until /quit, end of input or
// ctx is done.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	follow(ctx, &wg, c, viewstate.ScopeOwnProfile, c.view.Profile(), func(s viewstate.ProfileState) (any, error) {
		return s, s.Err
	})
	follow(ctx, &wg, c, viewstate.ScopePeer, c.view.Peer(), nil)
	follow(ctx, &wg, c, viewstate.ScopeChat, c.view.Chat(), func(s viewstate.ChatState) (any, error) {
		return s, s.Err
	})
	follow(ctx, &wg, c, viewstate.ScopeSearch, c.view.Search(), nil)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			if err := c.Execute(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				c.print(Line{Scope: "command", Error: err.Error()})
			}
		}
	}
}

// Execute runs one input line.
func (c *Console) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := c.view.SendMessage(ctx, line)
		return err
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit":
		return errQuit
	case "/profile":
		username, displayName, _ := strings.Cut(arg, " ")
		return c.view.UpdateProfile(ctx, username, strings.TrimSpace(displayName))
	case "/search":
		c.view.UpdateSearch(arg)
		return nil
	case "/chat":
		c.view.SetActiveChat(arg)
		c.view.ObservePeer(arg)
		return nil
	case "/token":
		if arg == "" {
			if err := c.profiles.RefreshPushToken(ctx); err != nil {
				return err
			}
		} else if err := c.profiles.SavePushToken(ctx, arg); err != nil {
			return err
		}
		c.print(Line{Scope: "command", Info: "push token saved"})
		return nil
	case "/photo":
		url, err := c.uploadPhoto(ctx, arg)
		if err != nil {
			return err
		}
		c.print(Line{Scope: "command", Info: "photo uploaded: " + url})
		return nil
	default:
		return fmt.Errorf("unknown command %s", cmd)
	}
}

func (c *Console) uploadPhoto(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", errors.New("usage: /photo <file>")
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return c.profiles.UploadPhoto(ctx, f, info.Size(), contentType)
}

func (c *Console) print(line Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(line); err != nil {
		c.logger.Warn("write console output failed", "err", err)
	}
}

// follow prints the slot's current snapshot and then every replacement.
// split extracts the printable state and error; nil prints the value as is.
func follow[T any](ctx context.Context, wg *sync.WaitGroup, c *Console, sc viewstate.Scope, slot *viewstate.Slot[T], split func(T) (any, error)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			changed := slot.Changed()
			value := slot.Load()
			line := Line{Scope: sc.String(), Phase: c.view.Phase(sc).String(), State: value}
			if split != nil {
				state, err := split(value)
				line.State = state
				if err != nil {
					line.Error = err.Error()
				}
			}
			c.print(line)
			select {
			case <-ctx.Done():
				return
			case <-changed:
			}
		}
	}()
}
