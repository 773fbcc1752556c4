package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"etraxis/internal/cache"
	"etraxis/internal/config"
	"etraxis/internal/domain"
	"etraxis/internal/engine/auth"
	"etraxis/internal/engine/workflow"
	"etraxis/internal/events"
	"etraxis/internal/fieldtype"
	"etraxis/internal/i18n"
	"etraxis/internal/repo"
	"etraxis/internal/telemetry"
	"etraxis/internal/validate"
	"etraxis/internal/values"
)

// Engine runs issue and workflow commands. Every command is one transaction
// that appends the event its changes hang off.
type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Translator i18n.Translator
	Validator  validate.Validator
	Now        func() time.Time
	Logger     *slog.Logger

	users    *cache.Cached[int64, domain.User]
	tracer   trace.Tracer
	commands metric.Int64Counter
}

func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	tr, err := i18n.New()
	if err != nil {
		return Engine{}, err
	}
	r := repo.Repo{DB: db}
	users, err := cache.New[int64, domain.User](cache.FinderFunc[int64, domain.User](r.User), cfg.Cache.Size)
	if err != nil {
		return Engine{}, err
	}
	commands, err := telemetry.Meter("etraxis/engine").Int64Counter("etraxis.engine.commands",
		metric.WithDescription("Engine commands executed"))
	if err != nil {
		return Engine{}, err
	}
	return Engine{
		DB:         db,
		Repo:       r,
		Events:     events.Writer{},
		Config:     cfg,
		Translator: tr,
		Validator:  validate.Default{},
		Now:        time.Now,
		Logger:     slog.Default(),
		users:      users,
		tracer:     telemetry.Tracer("etraxis/engine"),
		commands:   commands,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// span starts a command span; the returned func ends it and logs the outcome.
func (e Engine) span(ctx context.Context, name string, ids ...any) (context.Context, func(error)) {
	t := e.tracer
	if t == nil {
		t = telemetry.Tracer("etraxis/engine")
	}
	ctx, sp := telemetry.Start(ctx, t, name, ids...)
	return ctx, func(err error) {
		if e.commands != nil {
			e.commands.Add(ctx, 1, metric.WithAttributes(attribute.String("command", name), attribute.Bool("ok", err == nil)))
		}
		var forbidden auth.ForbiddenError
		switch {
		case err == nil:
			e.logger().Debug("command done", append([]any{"command", name}, ids...)...)
		case errors.As(err, &forbidden):
			e.logger().Warn("command denied", append([]any{"command", name, "permission", forbidden.Permission}, ids...)...)
		}
		telemetry.End(sp, err)
	}
}

// inTx runs fn in a transaction and commits when fn succeeds.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx, r repo.Repo) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx, e.Repo.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) user(ctx context.Context, id int64) (domain.User, error) {
	if e.users != nil {
		return e.users.Find(ctx, id)
	}
	return e.Repo.User(ctx, id)
}

// actor is the acting user together with the principal derived for one issue.
type actor struct {
	user      domain.User
	principal domain.Principal
	groups    []int64
}

// principal loads the acting user. A nil issue yields an ANYONE principal.
func (e Engine) principal(ctx context.Context, r repo.Repo, userID int64, issue *domain.Issue) (actor, error) {
	u, err := e.user(ctx, userID)
	if err != nil {
		return actor{}, err
	}
	if u.Disabled {
		return actor{}, auth.ForbiddenError{Permission: "account.enabled"}
	}
	groups, err := r.UserGroups(ctx, u.ID)
	if err != nil {
		return actor{}, err
	}
	return actor{user: u, principal: domain.NewPrincipal(u, groups, issue), groups: groups}, nil
}

func (a actor) forIssue(issue *domain.Issue) domain.Principal {
	return domain.NewPrincipal(a.user, a.groups, issue)
}

func (e Engine) locale(u domain.User) string {
	if u.Locale != "" && i18n.Supported(u.Locale) {
		return u.Locale
	}
	return e.config().Locale.Default
}

func (e Engine) location(u domain.User) *time.Location {
	if u.Timezone != "" {
		if loc, err := time.LoadLocation(u.Timezone); err == nil {
			return loc
		}
	}
	return e.config().Location()
}

func (e Engine) deps(r repo.Repo, u domain.User) fieldtype.Deps {
	return fieldtype.Deps{Values: r, Lists: r, Issues: r, Location: e.location(u), Now: e.Now}
}

func (e Engine) store(r repo.Repo, u domain.User) values.Store {
	return values.Store{
		Repo:       r,
		Deps:       e.deps(r, u),
		Validator:  e.Validator,
		Translator: e.Translator,
		Now:        e.Now,
		Logger:     e.logger(),
	}
}

func (e Engine) resolver(r repo.Repo) workflow.Resolver {
	return workflow.Resolver{Source: r, Now: e.Now}
}

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}
