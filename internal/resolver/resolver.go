package resolver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"tipbot/internal/domain"
	"tipbot/internal/ledger"
	"tipbot/internal/observability"
	"tipbot/internal/storage"
)

// ResolutionError means a handle could not be mapped to a funded account.
// The sender's mention should be answered with a retry suggestion rather
// than treated as a permanent failure.
type ResolutionError struct {
	Handle string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve @%s: %v", e.Handle, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Options configures Resolver.
type Options struct {
	Links  storage.AccountLinkStore
	Ledger ledger.Client
	// InitialBalance is the treasury grant for auto-provisioned accounts.
	InitialBalance decimal.Decimal
	// Metrics is optional.
	Metrics *observability.Metrics
	Logger  *log.Logger
}

// Resolver maps social handles to ledger accounts, creating an account on
// first sight of a handle. Concurrent requests for the same handle share a
// single provisioning flight so at most one ledger account is ever created.
type Resolver struct {
	links          storage.AccountLinkStore
	ledger         ledger.Client
	initialBalance decimal.Decimal
	metrics        *observability.Metrics
	logger         *log.Logger

	group singleflight.Group
}

// New creates a Resolver.
func New(opts Options) (*Resolver, error) {
	if opts.Links == nil {
		return nil, fmt.Errorf("links store is required")
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		links:          opts.Links,
		ledger:         opts.Ledger,
		initialBalance: opts.InitialBalance,
		metrics:        opts.Metrics,
		logger:         logger,
	}, nil
}

// Resolve returns the account link for handle, provisioning one if none
// exists. Handles are case-insensitive; the stored link keeps the
// lowercased form.
func (r *Resolver) Resolve(ctx context.Context, handle string) (*domain.AccountLink, error) {
	handle = strings.ToLower(strings.TrimPrefix(handle, "@"))
	if handle == "" {
		return nil, &ResolutionError{Handle: handle, Err: errors.New("empty handle")}
	}

	link, err := r.links.GetByHandle(ctx, handle)
	if err == nil {
		return link, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, &ResolutionError{Handle: handle, Err: err}
	}

	result, err, _ := r.group.Do(handle, func() (interface{}, error) {
		return r.provision(ctx, handle)
	})
	if err != nil {
		return nil, &ResolutionError{Handle: handle, Err: err}
	}
	return result.(*domain.AccountLink), nil
}

// provision creates a ledger account for handle and stores the link. A
// concurrent process may win the insert race; the stored link always wins.
func (r *Resolver) provision(ctx context.Context, handle string) (*domain.AccountLink, error) {
	// Another flight may have finished between the caller's miss and now.
	if link, err := r.links.GetByHandle(ctx, handle); err == nil {
		return link, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	keypair, err := ledger.GenerateAccountKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	accountID, err := r.ledger.CreateAccount(ctx, keypair.PublicKey, r.initialBalance)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	link := &domain.AccountLink{
		Handle:          handle,
		AccountID:       accountID,
		CreatedAt:       time.Now().UnixMilli(),
		AutoProvisioned: true,
	}

	if err := r.links.Insert(ctx, link); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Another process linked this handle first. Its account is the
			// canonical one; the one we just created is orphaned.
			r.logger.Printf("[resolver] lost provisioning race for @%s, using existing link", handle)
			return r.links.GetByHandle(ctx, handle)
		}
		return nil, fmt.Errorf("store link: %w", err)
	}

	if r.metrics != nil {
		r.metrics.AccountsProvisioned.Inc()
	}
	r.logger.Printf("[resolver] provisioned account %s for @%s", accountID, handle)
	return link, nil
}
