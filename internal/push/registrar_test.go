package push

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/session"
	"github.com/charlesng35/ticketdesk/internal/workflow"
	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
)

type fakeAgent struct {
	mu         sync.Mutex
	descriptor *models.PushDescriptor
	creates    int
	lastKey    []byte
	createErr  error
}

func (a *fakeAgent) Descriptor(context.Context) (*models.PushDescriptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.descriptor, nil
}

func (a *fakeAgent) CreateDescriptor(_ context.Context, key []byte) (*models.PushDescriptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return nil, a.createErr
	}
	a.creates++
	a.lastKey = key
	a.descriptor = &models.PushDescriptor{
		Endpoint: "https://push.example.com/send/abc",
		Keys:     models.PushKeys{P256dh: "p256", Auth: "auth"},
	}
	return a.descriptor, nil
}

type fakePlatform struct {
	mu         sync.Mutex
	supported  bool
	permission Permission
	agent      *fakeAgent
	installs   int
}

func (p *fakePlatform) SupportsPush() bool { return p.supported }

func (p *fakePlatform) InstallAgent(context.Context) (Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.installs++
	if p.agent == nil {
		p.agent = &fakeAgent{}
	}
	return p.agent, nil
}

func (p *fakePlatform) RequestPermission(context.Context) (Permission, error) {
	return p.permission, nil
}

type memoryStore struct {
	mu   sync.Mutex
	rows map[string]models.PushDescriptor
	err  error
}

func (s *memoryStore) SaveDescriptor(_ context.Context, userID string, d models.PushDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.rows == nil {
		s.rows = map[string]models.PushDescriptor{}
	}
	s.rows[userID] = d
	return nil
}

type staticKey struct {
	key string
	err error
}

func (k staticKey) PublicKey(context.Context) (string, error) { return k.key, k.err }

var user = session.Session{UserID: "req-1", Role: workflow.RoleRequester}

func newTestRegistrar(t *testing.T, platform *fakePlatform, store *memoryStore, keys KeyProvider) *Registrar {
	t.Helper()
	r, err := NewRegistrar(user, platform, store, keys)
	require.NoError(t, err)
	return r
}

func publicKey(t *testing.T) string {
	t.Helper()
	_, public, err := GenerateVAPIDKeys()
	require.NoError(t, err)
	return public
}

func TestRegisterCreatesAndStoresDescriptor(t *testing.T) {
	platform := &fakePlatform{supported: true, permission: PermissionGranted}
	store := &memoryStore{}
	r := newTestRegistrar(t, platform, store, staticKey{key: publicKey(t)})

	d, err := r.Register(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://push.example.com/send/abc", d.Endpoint)
	require.Len(t, platform.agent.lastKey, 65)

	_, err = r.Register(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, platform.installs)
	require.Equal(t, 1, platform.agent.creates, "existing descriptor is reused")
	require.Len(t, store.rows, 1)
}

func TestRegisterConcurrentCallsShareOneRun(t *testing.T) {
	platform := &fakePlatform{supported: true, permission: PermissionGranted}
	store := &memoryStore{}
	r := newTestRegistrar(t, platform, store, staticKey{key: publicKey(t)})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Register(context.Background())
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, platform.agent.creates)
	require.Len(t, store.rows, 1)
}

func TestRegisterFailures(t *testing.T) {
	ctx := context.Background()

	r := newTestRegistrar(t, &fakePlatform{supported: false}, &memoryStore{}, staticKey{})
	_, err := r.Register(ctx)
	require.ErrorIs(t, err, apperrors.ErrUnsupportedPlatform)

	r = newTestRegistrar(t, &fakePlatform{supported: true, permission: PermissionDenied}, &memoryStore{}, staticKey{})
	_, err = r.Register(ctx)
	require.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	r = newTestRegistrar(t, &fakePlatform{supported: true, permission: PermissionDefault}, &memoryStore{}, staticKey{})
	_, err = r.Register(ctx)
	require.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	var stepErr *StepError

	r = newTestRegistrar(t, &fakePlatform{supported: true, permission: PermissionGranted}, &memoryStore{}, staticKey{key: "not-a-key"})
	_, err = r.Register(ctx)
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, StepKey, stepErr.Step)

	platform := &fakePlatform{supported: true, permission: PermissionGranted, agent: &fakeAgent{createErr: errors.New("push service down")}}
	r = newTestRegistrar(t, platform, &memoryStore{}, staticKey{key: publicKey(t)})
	_, err = r.Register(ctx)
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, StepSubscribe, stepErr.Step)

	r = newTestRegistrar(t, &fakePlatform{supported: true, permission: PermissionGranted}, &memoryStore{err: errors.New("disk full")}, staticKey{key: publicKey(t)})
	_, err = r.Register(ctx)
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, StepStore, stepErr.Step)
	require.EqualError(t, errors.Unwrap(err), "disk full")
}

func TestNewRegistrarRequiresSession(t *testing.T) {
	_, err := NewRegistrar(session.Session{}, &fakePlatform{}, &memoryStore{}, staticKey{})
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = NewRegistrar(user, nil, &memoryStore{}, staticKey{})
	require.Error(t, err)
}
