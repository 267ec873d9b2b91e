// Package session owns the single mutable session: the selected service, the
// loaded image and the result view. Every mutation runs on one controller
// goroutine; front ends submit commands and read snapshots.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vbonduro/imagelab/internal/dispatch"
	"github.com/vbonduro/imagelab/internal/domain"
	"github.com/vbonduro/imagelab/internal/imagesource"
	"github.com/vbonduro/imagelab/internal/registry"
	"github.com/vbonduro/imagelab/internal/render"
)

var ErrClosed = errors.New("session closed")

// NotSelectedError is returned by Ask and Generate when their form is not
// reachable because another service is selected.
type NotSelectedError struct {
	Want domain.ServiceID
	Have domain.ServiceID
}

func (e *NotSelectedError) Error() string {
	return fmt.Sprintf("%s is not selected (current service is %s)", e.Want, e.Have)
}

// Dispatcher is the subset of dispatch.Client the controller requires.
type Dispatcher interface {
	Detect(ctx context.Context, img *imagesource.Image) (*domain.DetectionResult, error)
	Ask(ctx context.Context, img *imagesource.Image, question string) (*domain.VQAAnswer, error)
	Generate(ctx context.Context, prompt string) (*domain.ImageGenResult, error)
}

type Options struct {
	// Now defaults to time.Now.
	Now func() time.Time
	// OnChange is called on the controller goroutine after every state
	// change. It must not call back into the controller.
	OnChange func(Snapshot)
	// Previews includes the image data URI in snapshots.
	Previews bool
}

type command struct {
	apply func(s *state) error
	reply chan result
}

type result struct {
	snap Snapshot
	err  error
}

type completion struct {
	generation uint64
	service    domain.ServiceID
	startedAt  time.Time
	payload    any
	err        error
}

type Controller struct {
	registry   *registry.Registry
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time
	onChange   func(Snapshot)
	previews   bool

	ctx    context.Context
	cancel context.CancelFunc

	commands    chan command
	completions chan completion
	stop        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	// inflight is waited on only by Close, after run has exited.
	inflight sync.WaitGroup

	state state
}

func New(reg *registry.Registry, d Dispatcher, logger *slog.Logger, opts Options) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		registry:    reg,
		dispatcher:  d,
		logger:      logger,
		now:         opts.Now,
		onChange:    opts.OnChange,
		previews:    opts.Previews,
		ctx:         ctx,
		cancel:      cancel,
		commands:    make(chan command),
		completions: make(chan completion),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		state: state{
			service: domain.ServiceDetect,
		},
	}
	if c.now == nil {
		c.now = time.Now
	}
	go c.run()
	return c
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case cmd := <-c.commands:
			err := cmd.apply(&c.state)
			snap := c.snapshot()
			cmd.reply <- result{snap: snap, err: err}
			c.notify(snap)
		case m := <-c.completions:
			c.complete(m)
			c.inflight.Done()
			c.notify(c.snapshot())
			c.releaseWaiters()
		case <-c.stop:
			return
		}
	}
}

func (c *Controller) notify(snap Snapshot) {
	if c.onChange != nil {
		c.onChange(snap)
	}
}

// do runs apply on the controller goroutine and returns the resulting
// snapshot.
func (c *Controller) do(apply func(s *state) error) (Snapshot, error) {
	cmd := command{apply: apply, reply: make(chan result, 1)}
	select {
	case c.commands <- cmd:
	case <-c.done:
		return Snapshot{}, ErrClosed
	}
	r := <-cmd.reply
	return r.snap, r.err
}

// Close cancels in-flight requests and stops the controller. Completions that
// arrive afterwards are dropped.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.stop)
		<-c.done
		c.inflight.Wait()
	})
}

// Wait blocks until no request is in flight and every completion has been
// applied and observed. It returns early if the controller is closed.
func (c *Controller) Wait() {
	ch := make(chan struct{})
	_, err := c.do(func(s *state) error {
		if s.pending == 0 {
			close(ch)
			return nil
		}
		s.waiters = append(s.waiters, ch)
		return nil
	})
	if err != nil {
		return
	}
	select {
	case <-ch:
	case <-c.done:
	}
}

func (c *Controller) releaseWaiters() {
	s := &c.state
	if s.pending > 0 {
		return
	}
	for _, ch := range s.waiters {
		close(ch)
	}
	s.waiters = nil
}

func (c *Controller) State() (Snapshot, error) {
	return c.do(func(*state) error { return nil })
}

// SelectService switches the selected service. The result view is hidden and
// the loaded image is kept.
func (c *Controller) SelectService(id domain.ServiceID) (Snapshot, error) {
	if _, err := c.registry.Resolve(id); err != nil {
		return Snapshot{}, err
	}
	return c.do(func(s *state) error {
		s.service = id
		s.view = render.Hidden()
		s.requestStartedAt = time.Time{}
		s.generation++
		c.logger.Debug("service selected", "service", id)
		return nil
	})
}

// Load validates a user-provided file and loads it. A file whose declared
// type is not image/*, or that is empty, is ignored without error.
func (c *Controller) Load(name, declaredMIME string, data []byte) (Snapshot, error) {
	img, err := imagesource.Load(name, declaredMIME, data)
	if imagesource.Ignored(err) {
		c.logger.Debug("ignoring file", "name", name, "mime_type", declaredMIME, "reason", err)
		return c.State()
	}
	if err != nil {
		return Snapshot{}, err
	}
	return c.LoadImage(img)
}

// LoadImage replaces the loaded image. While detect is selected this issues
// one detect request.
func (c *Controller) LoadImage(img *imagesource.Image) (Snapshot, error) {
	if img == nil {
		return c.State()
	}
	return c.do(func(s *state) error {
		s.image = img
		c.logger.Info("image loaded", "name", img.Name, "mime_type", img.MIMEType, "size", len(img.Data))
		if s.service == domain.ServiceDetect {
			c.startDetect(s)
		}
		return nil
	})
}

// RemoveImage clears the image and hides the result view.
func (c *Controller) RemoveImage() (Snapshot, error) {
	return c.do(func(s *state) error {
		s.image = nil
		s.view = render.Hidden()
		s.requestStartedAt = time.Time{}
		s.generation++
		return nil
	})
}

// Analyze is the generic analyze action. For detect it issues a request; for
// vqa and imggen it reveals the question or prompt form without one.
func (c *Controller) Analyze() (Snapshot, error) {
	return c.do(func(s *state) error {
		if err := dispatch.RequireImage(s.image); err != nil {
			return c.fail(s, err)
		}
		if s.service == domain.ServiceDetect {
			c.startDetect(s)
			return nil
		}
		s.view = render.Render(s.service, nil)
		return nil
	})
}

// Ask submits question about the loaded image. The request itself does not
// depend on the selected service; the vqa check only mirrors the question
// form being reachable in the front ends. Preconditions are checked before
// any call.
func (c *Controller) Ask(question string) (Snapshot, error) {
	return c.do(func(s *state) error {
		if s.service != domain.ServiceVQA {
			return c.fail(s, &NotSelectedError{Want: domain.ServiceVQA, Have: s.service})
		}
		if err := dispatch.RequireImage(s.image); err != nil {
			return c.fail(s, err)
		}
		q, err := dispatch.RequireText(question, dispatch.ErrNoQuestion)
		if err != nil {
			return c.fail(s, err)
		}
		img := s.image
		c.launch(s, domain.ServiceVQA, func(ctx context.Context) (any, error) {
			return c.dispatcher.Ask(ctx, img, q)
		})
		return nil
	})
}

// Generate submits prompt. No image is sent. As with Ask, the imggen check is
// a front-end reachability rule and not part of the request.
func (c *Controller) Generate(prompt string) (Snapshot, error) {
	return c.do(func(s *state) error {
		if s.service != domain.ServiceImgGen {
			return c.fail(s, &NotSelectedError{Want: domain.ServiceImgGen, Have: s.service})
		}
		p, err := dispatch.RequireText(prompt, dispatch.ErrNoPrompt)
		if err != nil {
			return c.fail(s, err)
		}
		c.launch(s, domain.ServiceImgGen, func(ctx context.Context) (any, error) {
			return c.dispatcher.Generate(ctx, p)
		})
		return nil
	})
}

// DismissNotice hides the current notice before it expires.
func (c *Controller) DismissNotice() (Snapshot, error) {
	return c.do(func(s *state) error {
		s.notice = nil
		return nil
	})
}

func (c *Controller) startDetect(s *state) {
	img := s.image
	s.view = render.Hidden()
	c.launch(s, domain.ServiceDetect, func(ctx context.Context) (any, error) {
		return c.dispatcher.Detect(ctx, img)
	})
}

// launch issues call off the controller goroutine and feeds its outcome back
// as a completion tagged with the new generation.
func (c *Controller) launch(s *state, id domain.ServiceID, call func(ctx context.Context) (any, error)) {
	s.generation++
	s.requestStartedAt = c.now()
	s.pending++

	m := completion{generation: s.generation, service: id, startedAt: s.requestStartedAt}
	c.inflight.Add(1)
	go func() {
		m.payload, m.err = call(c.ctx)
		select {
		case c.completions <- m:
		case <-c.done:
			c.inflight.Done()
		}
	}()
}

func (c *Controller) complete(m completion) {
	s := &c.state
	s.pending--
	current := m.generation == s.generation
	if current {
		s.requestStartedAt = time.Time{}
	}

	if m.err != nil {
		c.logger.Warn("request failed", "service", m.service, "error", m.err, "stale", !current)
		c.fail(s, m.err)
		return
	}
	if !current {
		c.logger.Debug("discarding stale response", "service", m.service, "generation", m.generation)
		return
	}

	if r, ok := m.payload.(*domain.DetectionResult); ok && r != nil {
		r.Elapsed = c.now().Sub(m.startedAt)
		c.checkConfidence(r)
	}
	s.view = render.Render(m.service, m.payload)
}

func (c *Controller) checkConfidence(r *domain.DetectionResult) {
	for _, d := range r.Detections {
		if f, ok := d.Confidence.Float(); ok && (f < 0 || f > 100) {
			c.logger.Warn("confidence out of range", "name", d.Name, "confidence", string(d.Confidence))
		}
	}
}

// fail raises a notice for err and returns it.
func (c *Controller) fail(s *state, err error) error {
	now := c.now()
	s.notice = &Notice{
		Message:   Describe(err, c.registry),
		RaisedAt:  now,
		ExpiresAt: now.Add(NoticeLifetime),
		Err:       err,
	}
	return err
}
