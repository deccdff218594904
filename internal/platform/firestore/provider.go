package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/northmart/api/internal/platform/config"
)

const (
	defaultDialTimeout = 10 * time.Second
	envEmulatorHost    = "FIRESTORE_EMULATOR_HOST"
	envGoogleProjectID = "GOOGLE_CLOUD_PROJECT"
)

var ErrProviderClosed = errors.New("firestore: provider is closed")

// dialAttempt records one in-flight dial. The done channel closes when
// the attempt finishes; client and err are valid only after that.
type dialAttempt struct {
	done   chan struct{}
	client *firestore.Client
	err    error
}

func (a *dialAttempt) finish(client *firestore.Client, err error) {
	a.client = client
	a.err = err
	close(a.done)
}

// Provider owns the process-wide Firestore client and dials it on first use.
// Every repository shares one client; the dial happens once even when the
// first requests arrive concurrently, and waiters honour their own context
// cancellation rather than blocking on the dialer's.
type Provider struct {
	cfg         config.FirestoreConfig
	dialTimeout time.Duration
	clientOpts  []option.ClientOption

	mu      sync.Mutex
	pending *dialAttempt
	client  *firestore.Client

	closed atomic.Bool
}

// ProviderOption customises the Provider.
type ProviderOption func(*Provider)

// WithDialTimeout overrides the timeout for the initial dial.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithClientOptions appends Cloud client options used when dialing.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, opts...)
	}
}

// NewProvider builds a Provider from configuration. Nothing is dialed until
// the first Client call.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{cfg: cfg, dialTimeout: defaultDialTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Client returns the shared client, dialing it if this is the first caller.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	if ctx == nil {
		return nil, errors.New("firestore: context is required")
	}

	for {
		p.mu.Lock()
		if p.closed.Load() {
			p.mu.Unlock()
			return nil, ErrProviderClosed
		}
		if p.client != nil {
			client := p.client
			p.mu.Unlock()
			return client, nil
		}
		if attempt := p.pending; attempt != nil {
			p.mu.Unlock()
			return p.await(ctx, attempt)
		}

		// This caller dials; later callers wait on the attempt.
		attempt := &dialAttempt{done: make(chan struct{})}
		p.pending = attempt
		p.mu.Unlock()

		client, err := p.dial(ctx)

		p.mu.Lock()
		p.client = client
		p.pending = nil
		p.mu.Unlock()
		attempt.finish(client, err)

		if err != nil {
			return nil, err
		}
		if p.closed.Load() {
			return nil, ErrProviderClosed
		}
		return client, nil
	}
}

func (p *Provider) await(ctx context.Context, attempt *dialAttempt) (*firestore.Client, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-attempt.done:
	}
	if attempt.err != nil {
		return nil, attempt.err
	}
	if p.closed.Load() {
		return nil, ErrProviderClosed
	}
	return attempt.client, nil
}

func (p *Provider) dial(ctx context.Context) (*firestore.Client, error) {
	if p.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.dialTimeout)
		defer cancel()
	}

	projectID := strings.TrimSpace(p.cfg.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(os.Getenv(envGoogleProjectID))
	}
	if projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}

	client, err := firestore.NewClient(ctx, projectID, p.dialOptions()...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	return client, nil
}

func (p *Provider) dialOptions() []option.ClientOption {
	opts := append([]option.ClientOption(nil), p.clientOpts...)
	host := strings.TrimSpace(p.cfg.EmulatorHost)
	if host == "" {
		host = strings.TrimSpace(os.Getenv(envEmulatorHost))
	}
	if host == "" {
		return opts
	}
	if os.Getenv(envEmulatorHost) == "" {
		_ = os.Setenv(envEmulatorHost, host)
	}
	return append(opts,
		option.WithoutAuthentication(),
		option.WithEndpoint(host),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
}

// Close releases the client. The Provider cannot be reused afterwards; a
// dial in progress is waited out first so its client does not leak.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil || p.closed.Load() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var client *firestore.Client
	for {
		p.mu.Lock()
		if p.closed.Load() {
			p.mu.Unlock()
			return nil
		}
		if attempt := p.pending; attempt != nil {
			p.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-attempt.done:
				continue
			}
		}

		p.closed.Store(true)
		client = p.client
		p.client = nil
		p.mu.Unlock()
		break
	}

	if client == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- client.Close() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// RunTransaction runs fn in a transaction on the shared client.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, client, fn, opts...)
}
