package testutil

import (
	"context"
	"net/url"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/vibesec/vibesec-login/internal/exchange"
	"github.com/vibesec/vibesec-login/internal/session"
)

type MockExchanger struct {
	mock.Mock
}

func (m *MockExchanger) Exchange(ctx context.Context, env exchange.Envelope) (*exchange.Result, error) {
	args := m.Called(ctx, env)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exchange.Result), args.Error(1)
}

type MockCommitter struct {
	mock.Mock
}

func (m *MockCommitter) Commit(ctx context.Context, rec session.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

// RecordingNavigator remembers every navigation target
type RecordingNavigator struct {
	mu      sync.Mutex
	targets []string
}

func (n *RecordingNavigator) Navigate(target string) {
	n.mu.Lock()
	n.targets = append(n.targets, target)
	n.mu.Unlock()
}

func (n *RecordingNavigator) Targets() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.targets...)
}

// FakeLocation is an in-memory address bar with a history of replacements
type FakeLocation struct {
	mu       sync.Mutex
	current  *url.URL
	replaced []*url.URL
}

func NewFakeLocation(raw string) *FakeLocation {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return &FakeLocation{current: u}
}

func (l *FakeLocation) URL() *url.URL {
	l.mu.Lock()
	defer l.mu.Unlock()
	clone := *l.current
	return &clone
}

func (l *FakeLocation) Replace(u *url.URL) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = u
	l.replaced = append(l.replaced, u)
}

func (l *FakeLocation) Replacements() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.replaced)
}
