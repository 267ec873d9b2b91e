// Package console is the interactive terminal front end. Each typed line is
// one user action submitted to the session controller.
package console

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/chzyer/readline"

	"github.com/vbonduro/imagelab/internal/dispatch"
	"github.com/vbonduro/imagelab/internal/domain"
	"github.com/vbonduro/imagelab/internal/imagesource"
	"github.com/vbonduro/imagelab/internal/imagesource/local"
	"github.com/vbonduro/imagelab/internal/registry"
	"github.com/vbonduro/imagelab/internal/session"
)

const helpText = `Commands:
  use <detect|vqa|imggen>   select a service
  services                  list services
  load <path>               load an image file
  ls                        list images in the image directory
  open <name>               load an image from the image directory
  remove                    remove the loaded image
  analyze                   analyze the image (detect) or show the input form
  ask <question>            ask about the image (vqa)
  generate <prompt>         generate an image (imggen)
  state                     show the session
  health                    probe every backend
  help                      show this help
  quit                      exit
`

// healthChecker is the subset of dispatch.Client the console requires.
type healthChecker interface {
	HealthAll(ctx context.Context) []dispatch.HealthStatus
}

// imageLibrary is the subset of local.Library the console requires.
type imageLibrary interface {
	List(ctx context.Context) ([]local.Entry, error)
	Open(ctx context.Context, name string) (*imagesource.Image, error)
}

type Console struct {
	session       *session.Controller
	registry      *registry.Registry
	printer       *Printer
	health        healthChecker
	library       imageLibrary
	maxImageBytes int64
	logger        *slog.Logger
}

// New builds a console. printer must be the one whose Notify is the
// controller's OnChange; library may be nil.
func New(ctrl *session.Controller, reg *registry.Registry, printer *Printer, health healthChecker, library imageLibrary, maxImageBytes int64, logger *slog.Logger) *Console {
	return &Console{
		session:       ctrl,
		registry:      reg,
		printer:       printer,
		health:        health,
		library:       library,
		maxImageBytes: maxImageBytes,
		logger:        logger,
	}
}

// Run reads lines until EOF, an interrupt on an empty line, or quit.
func (c *Console) Run(ctx context.Context, rl *readline.Instance) error {
	c.printer.Printf("%s", helpText)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if c.Execute(ctx, line) {
			return nil
		}
	}
}

// Execute runs one command line and reports whether the console should exit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	var (
		snap session.Snapshot
		err  error
	)
	switch strings.ToLower(name) {
	case "":
		return false
	case "quit", "exit":
		return true
	case "help":
		c.printer.Printf("%s", helpText)
		return false
	case "services":
		c.printServices()
		return false
	case "use":
		snap, err = c.session.SelectService(domain.ServiceID(strings.ToLower(arg)))
		if err == nil {
			c.printer.Printf("Service: %s\n", snap.DisplayName)
		}
	case "load":
		err = c.loadFile(arg)
	case "ls":
		err = c.listLibrary(ctx)
	case "open":
		err = c.openLibraryImage(ctx, arg)
	case "remove":
		snap, err = c.session.RemoveImage()
		if err == nil {
			c.printer.Printf("Image removed.\n")
		}
	case "analyze":
		snap, err = c.session.Analyze()
	case "ask":
		snap, err = c.session.Ask(arg)
	case "generate":
		snap, err = c.session.Generate(arg)
	case "state":
		snap, err = c.session.State()
		if err == nil {
			c.printState(snap)
		}
	case "health":
		c.printHealth(ctx)
		return false
	default:
		c.printer.Printf("Unknown command %q. Type help for a list of commands.\n", name)
		return false
	}

	// Errors raised as notices are printed by the printer.
	if err != nil && (snap.Notice == nil || snap.Notice.Err != err) {
		c.printer.Printf("! %s\n", session.Describe(err, c.registry))
	}
	return false
}

// loadFile loads path from disk. Files that are not images, or are empty, are
// ignored.
func (c *Console) loadFile(path string) error {
	if path == "" {
		c.printer.Printf("usage: load <path>\n")
		return nil
	}
	img, err := imagesource.LoadFile(path, c.maxImageBytes)
	if imagesource.Ignored(err) {
		c.logger.Debug("ignoring file", "path", path, "reason", err)
		return nil
	}
	if err != nil {
		return err
	}
	snap, err := c.session.LoadImage(img)
	if err != nil {
		return err
	}
	c.printLoaded(snap)
	return nil
}

func (c *Console) openLibraryImage(ctx context.Context, name string) error {
	if c.library == nil {
		c.printer.Printf("No image directory configured.\n")
		return nil
	}
	img, err := c.library.Open(ctx, name)
	if imagesource.Ignored(err) {
		c.logger.Debug("ignoring file", "name", name, "reason", err)
		return nil
	}
	if err != nil {
		return err
	}
	snap, err := c.session.LoadImage(img)
	if err != nil {
		return err
	}
	c.printLoaded(snap)
	return nil
}

func (c *Console) listLibrary(ctx context.Context) error {
	if c.library == nil {
		c.printer.Printf("No image directory configured.\n")
		return nil
	}
	entries, err := c.library.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		c.printer.Printf("No images found.\n")
		return nil
	}
	for _, e := range entries {
		c.printer.Printf("  %-32s %-12s %d bytes\n", e.Name, e.MIMEType, e.Size)
	}
	return nil
}

func (c *Console) printLoaded(snap session.Snapshot) {
	if snap.Image == nil {
		return
	}
	c.printer.Printf("Loaded %s (%s, %s, %d bytes)\n", snap.Image.Name, snap.Image.MIMEType, snap.Image.Dimensions, snap.Image.Size)
}

func (c *Console) printServices() {
	for _, d := range c.registry.All() {
		c.printer.Printf("  %-7s %-36s %s\n", d.ID, d.DisplayName, d.EndpointURL)
	}
}

func (c *Console) printState(snap session.Snapshot) {
	c.printer.Printf("Service: %s (%s)\n", snap.DisplayName, snap.Service)
	if snap.Image != nil {
		c.printer.Printf("Image:   %s (%s, %s)\n", snap.Image.Name, snap.Image.MIMEType, snap.Image.Dimensions)
	} else {
		c.printer.Printf("Image:   none\n")
	}
	if snap.Pending > 0 {
		c.printer.Printf("Pending: %d\n", snap.Pending)
	}
	c.printer.WriteView(snap.View)
}

func (c *Console) printHealth(ctx context.Context) {
	for _, h := range c.health.HealthAll(ctx) {
		if h.OK() {
			c.printer.Printf("  %-7s ok    %s\n", h.Service, h.Endpoint)
			continue
		}
		c.printer.Printf("  %-7s DOWN  %s\n", h.Service, session.Describe(h.Err, c.registry))
	}
}
