package message

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xmen/payveil/internal/logging"
	"github.com/4xmen/payveil/internal/models"
)

type memFiles struct {
	mu      sync.Mutex
	next    int
	objects map[string][]byte
}

func newMemFiles() *memFiles { return &memFiles{objects: map[string][]byte{}} }

func (f *memFiles) Save(name string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	key := name + "-" + string(rune('a'+f.next))
	f.objects[key] = data
	return key, nil
}

func (f *memFiles) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *memFiles) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

type stubPreviewer struct{ err error }

func (p stubPreviewer) Render(title, price string) ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	return []byte("png:" + title + ":" + price), nil
}

type recordingListener struct {
	mu          sync.Mutex
	viewed      []int64
	disappeared []int64
}

func (l *recordingListener) MessageViewed(m *models.Message, _ *int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.viewed = append(l.viewed, m.ID)
}

func (l *recordingListener) MessageDisappeared(m *models.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disappeared = append(l.disappeared, m.ID)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *memFiles, *recordingListener, *clock) {
	t.Helper()
	files := newMemFiles()
	listener := &recordingListener{}
	clk := &clock{now: time.Now().UTC().Truncate(time.Second)}
	opts = append([]Option{WithListener(listener), WithClock(clk.Now)}, opts...)
	svc := NewService(NewStore(newTestDB(t)), files, logging.Discard(), opts...)
	return svc, files, listener, clk
}

func TestServiceCreateAttachesPreview(t *testing.T) {
	svc, files, _, _ := newTestService(t, WithPreviewer(stubPreviewer{}))

	m, err := svc.Create(context.Background(), validParams())
	require.NoError(t, err)
	require.NotNil(t, m.PreviewURL)

	key := previewKey(*m.PreviewURL)
	assert.True(t, files.has(key))

	stored, err := svc.Store().ByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, *m.PreviewURL, *stored.PreviewURL)
}

func TestServiceCreateSurvivesPreviewFailure(t *testing.T) {
	svc, _, _, _ := newTestService(t, WithPreviewer(stubPreviewer{err: errors.New("boom")}))

	m, err := svc.Create(context.Background(), validParams())
	require.NoError(t, err)
	assert.Nil(t, m.PreviewURL)
}

func TestServiceCreateRejectsInvalid(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	p := validParams()
	p.Title = ""
	_, err := svc.Create(context.Background(), p)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestServiceViewSingleUse(t *testing.T) {
	svc, _, listener, _ := newTestService(t)
	ctx := context.Background()

	p := validParams()
	p.MaxViews = intPtr(1)
	m, err := svc.Create(ctx, p)
	require.NoError(t, err)
	_, err = svc.Store().MarkUnlocked(ctx, m.ID, time.Now())
	require.NoError(t, err)

	viewed, d, err := svc.View(ctx, m.Slug)
	require.NoError(t, err)
	assert.Equal(t, "the code is 4471", *viewed.Body)
	assert.Equal(t, 0, *d.ViewsRemaining)

	_, _, err = svc.View(ctx, m.Slug)
	var gone *GoneError
	require.ErrorAs(t, err, &gone)
	assert.Equal(t, ReasonViewLimit, gone.Reason)

	assert.Equal(t, []int64{m.ID}, listener.viewed)
	assert.Equal(t, []int64{m.ID}, listener.disappeared)
}

func TestServiceViewRemovesFileOnDisappear(t *testing.T) {
	svc, files, _, clk := newTestService(t)
	ctx := context.Background()

	key, err := files.Save("a.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)

	p := validParams()
	p.Body = ""
	p.File = &FileRef{Key: key, Name: "a.pdf", ContentType: "application/pdf"}
	p.DeleteAfterMinutes = intPtr(1)
	m, err := svc.Create(ctx, p)
	require.NoError(t, err)
	_, err = svc.Store().MarkUnlocked(ctx, m.ID, time.Now())
	require.NoError(t, err)

	_, _, err = svc.View(ctx, m.Slug)
	require.NoError(t, err)

	got, err := svc.AuthorizeFile(ctx, key, 0)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	clk.Advance(2 * time.Minute)
	_, err = svc.AuthorizeFile(ctx, key, 0)
	var gone *GoneError
	require.ErrorAs(t, err, &gone)
	assert.Equal(t, ReasonTimed, gone.Reason)
	assert.False(t, files.has(key))
}

func TestServiceAuthorizeFileLockedAndOwner(t *testing.T) {
	svc, files, _, _ := newTestService(t)
	ctx := context.Background()

	key, err := files.Save("a.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	p := validParams()
	p.Body = ""
	p.File = &FileRef{Key: key, Name: "a.pdf"}
	_, err = svc.Create(ctx, p)
	require.NoError(t, err)

	_, err = svc.AuthorizeFile(ctx, key, 0)
	assert.ErrorIs(t, err, ErrLocked)

	_, err = svc.AuthorizeFile(ctx, key, 1)
	assert.NoError(t, err)

	_, err = svc.AuthorizeFile(ctx, "unknown", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceSweep(t *testing.T) {
	svc, _, listener, clk := newTestService(t)
	ctx := context.Background()

	p := validParams()
	deleteAt := clk.Now().Add(time.Hour)
	p.DeleteAt = &deleteAt
	m, err := svc.Create(ctx, p)
	require.NoError(t, err)

	n, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(2 * time.Hour)
	n, err = svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{m.ID}, listener.disappeared)

	stored, err := svc.Store().ByID(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, stored.Disappeared)
	assert.Equal(t, ReasonSelfDestruct, *stored.DisappearedReason)
}

func TestServiceDelete(t *testing.T) {
	svc, files, _, _ := newTestService(t, WithPreviewer(stubPreviewer{}))
	ctx := context.Background()

	m, err := svc.Create(ctx, validParams())
	require.NoError(t, err)
	key := previewKey(*m.PreviewURL)

	assert.ErrorIs(t, svc.Delete(ctx, m.ID, 7), ErrNotFound)
	require.NoError(t, svc.Delete(ctx, m.ID, 1))
	assert.False(t, files.has(key))
}
