// Package desk wires the store, the session and the domain components into
// the single object the CLI talks to.
package desk

import (
	"context"
	"log/slog"
	"time"

	"librarydesk/access"
	"librarydesk/blacklist"
	"librarydesk/circulation"
	"librarydesk/config"
	"librarydesk/inventory"
	"librarydesk/library"
	"librarydesk/notify"
	"librarydesk/session"
)

// LibraryManager is a thin façade over the components, keeping CLI code simple.
type LibraryManager struct {
	db     *library.Database
	auth   *library.Authenticator
	logger *slog.Logger

	Session     *session.Session
	Blacklist   *blacklist.Ledger
	Circulation *circulation.Engine
	Catalog     *inventory.Catalog

	sweepInterval time.Duration
	unsubscribe   func()
}

// Option configures a LibraryManager.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	notifier notify.Notifier
	now      func() time.Time
}

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func WithNotifier(n notify.Notifier) Option { return func(o *options) { o.notifier = n } }

// WithClock replaces time.Now in every component.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// NewLibraryManager opens (or creates) the SQLite database named by cfg and
// builds every component on top of it.
func NewLibraryManager(cfg config.Config, opts ...Option) (*LibraryManager, error) {
	o := options{logger: slog.Default(), notifier: notify.Nop{}, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	db, err := library.NewDatabase(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	auth := library.NewAuthenticator(db, cfg.BcryptCost, cfg.SessionTTL)
	sess := session.New(auth,
		session.WithLogger(o.logger.With("component", "session")),
		session.WithClock(o.now))
	ledger := blacklist.New(db, sess,
		blacklist.WithLogger(o.logger.With("component", "blacklist")),
		blacklist.WithNotifier(o.notifier),
		blacklist.WithClock(o.now))
	engine := circulation.New(db, ledger, sess,
		circulation.WithLogger(o.logger.With("component", "circulation")),
		circulation.WithNotifier(o.notifier),
		circulation.WithClock(o.now),
		circulation.WithLoanPeriod(cfg.LoanPeriod))
	catalog := inventory.New(db, sess,
		inventory.WithLogger(o.logger.With("component", "inventory")),
		inventory.WithNotifier(o.notifier),
		inventory.WithClock(o.now))

	lm := &LibraryManager{
		db:            db,
		auth:          auth,
		logger:        o.logger,
		Session:       sess,
		Blacklist:     ledger,
		Circulation:   engine,
		Catalog:       catalog,
		sweepInterval: cfg.SweepInterval,
	}
	lm.unsubscribe = sess.Subscribe(func(ev session.Event) {
		lm.logger.Debug("session state changed", "state", ev.State.String())
	})
	return lm, nil
}

// Close signs out and closes the underlying database.
func (lm *LibraryManager) Close() error {
	lm.unsubscribe()
	if lm.Session.State() == session.Authenticated {
		if err := lm.Session.SignOut(context.Background()); err != nil {
			lm.logger.Warn("sign out on close", "error", err)
		}
	}
	return lm.db.Close()
}

// ------------------ Identity helpers ------------------

func (lm *LibraryManager) SignIn(ctx context.Context, email, password string) error {
	return lm.Session.SignIn(ctx, email, password)
}

func (lm *LibraryManager) SignOut(ctx context.Context) error { return lm.Session.SignOut(ctx) }

func (lm *LibraryManager) CurrentActor() *access.Actor { return lm.Session.CurrentActor() }

// Nav returns the sections the current actor may open.
func (lm *LibraryManager) Nav() []access.NavItem { return access.NavItems(lm.Session.CurrentActor()) }

// CreateAccount registers an account without touching the current session.
// Seeding tools use it to provision staff accounts.
func (lm *LibraryManager) CreateAccount(ctx context.Context, email, password string, profile library.Profile) (library.Profile, error) {
	as, err := lm.auth.SignUp(ctx, email, password, profile)
	if err != nil {
		return library.Profile{}, err
	}
	if err := lm.auth.SignOut(ctx, as.Token); err != nil {
		lm.logger.Warn("drop provisioning session", "error", err)
	}
	return as.Profile, nil
}

// ResetPassword sets a new password for the account with email. Only an
// actor allowed to manage settings may do it.
func (lm *LibraryManager) ResetPassword(ctx context.Context, email, password string) error {
	actor := lm.Session.CurrentActor()
	if err := access.Require(actor, access.ManageSettings); err != nil {
		return err
	}
	if err := lm.auth.ResetPassword(ctx, email, password); err != nil {
		return err
	}
	lm.logger.Info("password reset", "email", email, "by", actor.ID)
	return nil
}

// ------------------ Background work ------------------

// StartSweeper runs the overdue sweep in the background until the returned
// stop func is called. A non-positive interval disables it.
func (lm *LibraryManager) StartSweeper(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	sw := circulation.NewSweeper(lm.Circulation, lm.sweepInterval, lm.logger.With("component", "sweeper"))
	go func() {
		defer close(done)
		_ = sw.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}
