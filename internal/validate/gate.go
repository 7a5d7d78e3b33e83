// Package validate admits or rejects rows against a declarative rule table.
// Rules are evaluated independently per row; a rejected row never aborts the
// batch it belongs to.
package validate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Rule maps one field of T to a predicate. Tag is a validator tag applied to
// Value(row); Check, when set, is used instead for rules that span fields.
type Rule[T any] struct {
	Name  string
	Field string
	Tag   string
	Value func(T) any
	Check func(T) bool
}

// Rejection is the structured reason a row was excluded.
type Rejection struct {
	Key   string
	Rule  string
	Field string
	Value any
}

func (r Rejection) Error() string {
	return fmt.Sprintf("%s: rule %s failed on %s=%v", r.Key, r.Rule, r.Field, r.Value)
}

type Option func(*options)

type options struct {
	logger   zerolog.Logger
	onReject func(Rejection)
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRejectHook is called once per rejected row, after logging.
func WithRejectHook(fn func(Rejection)) Option {
	return func(o *options) { o.onReject = fn }
}

type Gate[T any] struct {
	rules []Rule[T]
	key   func(T) string
	v     *validator.Validate
	opts  options
}

func NewGate[T any](rules []Rule[T], key func(T) string, opts ...Option) *Gate[T] {
	o := options{logger: log.Logger}
	for _, opt := range opts {
		opt(&o)
	}
	g := &Gate[T]{rules: rules, key: key, v: NewValidator(), opts: o}
	o.logger.Debug().Strs("rules", g.RuleNames()).Msg("validation gate ready")
	return g
}

// NewValidator returns a validator with the tags shared by every rule table.
func NewValidator() *validator.Validate {
	v := validator.New()
	must(v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}))
	return v
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// Check returns the first rule row violates.
func (g *Gate[T]) Check(row T) (Rejection, bool) {
	for _, r := range g.rules {
		if r.Check != nil {
			if !r.Check(row) {
				var val any
				if r.Value != nil {
					val = r.Value(row)
				}
				return Rejection{Key: g.key(row), Rule: r.Name, Field: r.Field, Value: val}, false
			}
			continue
		}
		val := r.Value(row)
		if err := g.v.Var(val, r.Tag); err != nil {
			return Rejection{Key: g.key(row), Rule: r.Name, Field: r.Field, Value: val}, false
		}
	}
	return Rejection{}, true
}

// Filter splits rows into the admitted set, in input order, and the
// rejections. Admitted rows are returned unmodified.
func (g *Gate[T]) Filter(rows []T) ([]T, []Rejection) {
	admitted := make([]T, 0, len(rows))
	var rejected []Rejection
	for _, row := range rows {
		rej, ok := g.Check(row)
		if ok {
			admitted = append(admitted, row)
			continue
		}
		g.opts.logger.Warn().
			Str("key", rej.Key).
			Str("rule", rej.Rule).
			Str("field", rej.Field).
			Interface("value", rej.Value).
			Msg("row failed validation")
		if g.opts.onReject != nil {
			g.opts.onReject(rej)
		}
		rejected = append(rejected, rej)
	}
	return admitted, rejected
}

// RuleNames lists the rule names in evaluation order.
func (g *Gate[T]) RuleNames() []string {
	names := make([]string, len(g.rules))
	for i, r := range g.rules {
		names[i] = r.Name
	}
	return names
}
