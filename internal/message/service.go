package message

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/4xmen/payveil/internal/metrics"
	"github.com/4xmen/payveil/internal/models"
)

// FileStore is the slice of object storage the message lifecycle needs.
type FileStore interface {
	Save(name string, r io.Reader) (string, error)
	Delete(key string) error
}

// Previewer renders the card shown to recipients before they pay.
type Previewer interface {
	Render(title, price string) ([]byte, error)
}

// Listener is told about view-side lifecycle events. Implementations must
// not block.
type Listener interface {
	MessageViewed(m *models.Message, viewsRemaining *int)
	MessageDisappeared(m *models.Message)
}

type Service struct {
	store     *Store
	files     FileStore
	previewer Previewer
	listener  Listener
	log       logrus.FieldLogger
	now       func() time.Time
}

type Option func(*Service)

func WithPreviewer(p Previewer) Option { return func(s *Service) { s.previewer = p } }
func WithListener(l Listener) Option   { return func(s *Service) { s.listener = l } }
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store *Store, files FileStore, log logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		store: store,
		files: files,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Store() *Store { return s.store }

func (s *Service) Now() time.Time { return s.now() }

// Create validates and stores a message. Text messages get a rendered
// preview; a render failure is logged and does not fail the create.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.Message, error) {
	now := s.now()
	if err := p.Validate(now); err != nil {
		return nil, err
	}

	m, err := s.store.Create(ctx, p, now)
	if err != nil {
		return nil, err
	}
	metrics.MessagesCreated.WithLabelValues(m.Kind()).Inc()

	if m.Kind() == models.KindText && s.previewer != nil && s.files != nil {
		if err := s.attachPreview(ctx, m); err != nil {
			s.log.WithFields(logrus.Fields{"message_id": m.ID, "error": err}).Warn("preview render failed")
		}
	}
	return m, nil
}

func (s *Service) attachPreview(ctx context.Context, m *models.Message) error {
	png, err := s.previewer.Render(m.Title, m.Price.StringFixed(2)+" "+m.Currency)
	if err != nil {
		return err
	}
	key, err := s.files.Save("preview.png", bytes.NewReader(png))
	if err != nil {
		return fmt.Errorf("failed to store preview: %w", err)
	}
	url := "/api/files/" + key
	if err := s.store.SetPreviewURL(ctx, m.ID, url); err != nil {
		s.removeFile(key)
		return fmt.Errorf("failed to save preview url: %w", err)
	}
	m.PreviewURL = &url
	return nil
}

// View consumes one view of a paid message. A denial is returned as a
// GoneError after the message has been purged.
func (s *Service) View(ctx context.Context, slug string) (*models.Message, Decision, error) {
	out, err := s.store.ConsumeView(ctx, slug, s.now())
	if err != nil {
		var gone *GoneError
		switch {
		case errors.As(err, &gone):
			metrics.ContentViews.WithLabelValues("gone").Inc()
		case errors.Is(err, ErrLocked):
			metrics.ContentViews.WithLabelValues("locked").Inc()
		}
		return nil, Decision{}, err
	}

	if !out.Decision.Allowed {
		metrics.ContentViews.WithLabelValues("denied").Inc()
		if out.Purged {
			s.afterDisappear(out.Message, out.PurgedFileKey)
		}
		return nil, out.Decision, &GoneError{Reason: out.Decision.Reason}
	}

	metrics.ContentViews.WithLabelValues("allowed").Inc()
	if s.listener != nil {
		s.listener.MessageViewed(out.Message, out.Decision.ViewsRemaining)
	}
	return out.Message, out.Decision, nil
}

// Disappear applies a fired rule outside the view path (sweeps and file
// downloads). It is a no-op if the message already disappeared.
func (s *Service) Disappear(ctx context.Context, m *models.Message, reason string) error {
	fileKey := m.FileKey
	purged, err := s.store.MarkDisappeared(ctx, m.ID, reason, s.now())
	if err != nil {
		return err
	}
	if !purged {
		return nil
	}
	m.Disappeared = true
	m.DisappearedReason = &reason
	m.Body = nil
	m.FileKey = nil
	s.afterDisappear(m, fileKey)
	return nil
}

func (s *Service) afterDisappear(m *models.Message, fileKey *string) {
	s.log.WithFields(logrus.Fields{
		"message_id": m.ID,
		"reason":     deref(m.DisappearedReason),
	}).Info("message disappeared")
	metrics.Disappearances.WithLabelValues(deref(m.DisappearedReason)).Inc()

	if fileKey != nil {
		s.removeFile(*fileKey)
	}
	if s.listener != nil {
		s.listener.MessageDisappeared(m)
	}
}

func (s *Service) removeFile(key string) {
	if s.files == nil {
		return
	}
	if err := s.files.Delete(key); err != nil {
		s.log.WithFields(logrus.Fields{"file_key": key, "error": err}).Warn("failed to delete stored file")
	}
}

// Sweep disappears every message whose clock-based rule has fired.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.DueForSweep(ctx, now)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, m := range due {
		reason, fired := TimeExpired(StateOf(m), now)
		if !fired {
			continue
		}
		if err := s.Disappear(ctx, m, reason); err != nil {
			return swept, fmt.Errorf("failed to sweep message %d: %w", m.ID, err)
		}
		swept++
	}
	return swept, nil
}

// CheckAvailable returns a GoneError when m has disappeared or a clock-based
// rule has fired by now. A fired rule is applied on the spot so metadata,
// checkout and status never wait for the next sweep.
func (s *Service) CheckAvailable(ctx context.Context, m *models.Message) error {
	if m.Disappeared {
		return &GoneError{Reason: deref(m.DisappearedReason)}
	}
	reason, fired := TimeExpired(StateOf(m), s.now())
	if !fired {
		return nil
	}
	if err := s.Disappear(ctx, m, reason); err != nil {
		return err
	}
	return &GoneError{Reason: reason}
}

// Delete retires an owner's message and removes its stored objects.
func (s *Service) Delete(ctx context.Context, id, userID int64) error {
	m, err := s.store.ByOwner(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id, userID, s.now()); err != nil {
		return err
	}
	if m.FileKey != nil {
		s.removeFile(*m.FileKey)
	}
	if m.PreviewURL != nil {
		s.removeFile(previewKey(*m.PreviewURL))
	}
	return nil
}

// AuthorizeFile decides whether viewerID (0 for anonymous) may download the
// object stored under key. Previews are public. Message files are open to the
// owner, and to anyone once the message is paid, active and no clock rule has
// fired. Downloading does not consume a view.
func (s *Service) AuthorizeFile(ctx context.Context, key string, viewerID int64) (*models.Message, error) {
	m, err := s.store.ByFileKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		if _, perr := s.store.ByPreviewURL(ctx, "/api/files/"+key); perr == nil {
			return nil, nil
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if viewerID != 0 && m.UserID == viewerID {
		return m, nil
	}
	if !m.Active {
		return nil, ErrNotFound
	}
	if err := s.CheckAvailable(ctx, m); err != nil {
		return nil, err
	}
	if !m.Unlocked {
		return nil, ErrLocked
	}
	return m, nil
}

func previewKey(url string) string {
	const prefix = "/api/files/"
	if len(url) > len(prefix) && url[:len(prefix)] == prefix {
		return url[len(prefix):]
	}
	return url
}
