// Package monitor runs rows through the trigger evaluators and turns what fired into
// deduplicated, grouped alert messages.
package monitor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rewired-gh/scanalert/internal/fields"
	"github.com/rewired-gh/scanalert/internal/logger"
	"github.com/rewired-gh/scanalert/internal/metrics"
	"github.com/rewired-gh/scanalert/internal/models"
	"github.com/rewired-gh/scanalert/internal/rules"
	"github.com/rewired-gh/scanalert/internal/triggers"
)

// StateStore gives serialized read-modify-write access to one symbol's state. fn receives
// a private copy; what it leaves in the copy is saved together with the returned messages.
type StateStore interface {
	UpdateState(ctx context.Context, sourceID int64, symbol string,
		fn func(st *models.SymbolState) ([]models.AlertMessage, error)) ([]models.AlertMessage, error)
}

type Config struct {
	Retention         time.Duration
	DefaultPriceField string
}

func DefaultConfig() Config {
	return Config{
		Retention:         DefaultRetention,
		DefaultPriceField: "Last",
	}
}

// fallbackPriceFields are tried after the configured price column.
var fallbackPriceFields = []string{"last", "last price", "price", "close"}

type Monitor struct {
	store    StateStore
	catalog  *rules.Catalog
	registry *triggers.Registry
	config   Config
	log      zerolog.Logger
	now      func() time.Time
}

func New(store StateStore, catalog *rules.Catalog, registry *triggers.Registry, config Config) *Monitor {
	if registry == nil {
		registry = triggers.NewRegistry()
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	return &Monitor{
		store:    store,
		catalog:  catalog,
		registry: registry,
		config:   config,
		log:      logger.With("monitor"),
		now:      time.Now,
	}
}

func (m *Monitor) priceCandidates(source *models.DataSource, a *rules.Algorithm) []string {
	first := source.PriceField
	if first == "" && a != nil {
		first = a.PriceField
	}
	if first == "" {
		first = m.config.DefaultPriceField
	}
	out := make([]string, 0, len(fallbackPriceFields)+1)
	if first != "" {
		out = append(out, first)
	}
	return append(out, fallbackPriceFields...)
}

// Evaluate runs one row of a data source through the engine and returns the new alert
// messages, already persisted with the symbol's state. Rows without a symbol are skipped.
// While the source is still at data version 0 the row only seeds state. Only state store
// failures are returned as errors.
func (m *Monitor) Evaluate(ctx context.Context, source *models.DataSource, raw fields.Row) ([]models.AlertMessage, error) {
	symbol := strings.TrimSpace(raw.Value(fields.SymbolCandidates...))
	if symbol == "" {
		m.log.Debug().Str("algorithm", source.Algorithm).Int64("source", source.ID).Msg("row without symbol skipped")
		metrics.RowsSkipped.WithLabelValues(source.Algorithm, "no_symbol").Inc()
		return nil, nil
	}

	algo, _ := m.catalog.Algorithm(source.Algorithm)
	evaluator, hasEvaluator := m.registry.Resolve(source.Algorithm, algo)
	baseline := source.Baseline()
	candidates := m.priceCandidates(source, algo)
	userRules := source.Rules()
	now := m.now()

	msgs, err := m.store.UpdateState(ctx, source.ID, symbol, func(st *models.SymbolState) ([]models.AlertMessage, error) {
		PruneFired(st, now, m.config.Retention)

		value, price, hasPrice := raw.NumberText(candidates...)
		in := &triggers.Input{
			Symbol:   symbol,
			Row:      raw,
			Prev:     st.PreviousRow,
			State:    st,
			Rules:    algo,
			Price:    price,
			HasPrice: hasPrice,
			Context:  triggers.NewContext(symbol, raw, value),
			Now:      now,
		}

		var events []models.RawAlertEvent
		if hasEvaluator {
			events = evaluator.Evaluate(in)
		}
		events = append(events, triggers.UserRules(in, userRules)...)

		st.PreviousRow = raw.Clone()
		if hasPrice {
			p := price
			st.LastPrice = &p
		}
		if d, ok := raw.Get(triggers.DirectionCandidates...); ok {
			st.LastDirection = triggers.CanonicalDirection(d)
		}
		st.UpdatedAt = now

		if baseline {
			return nil, nil
		}

		kept, dropped := FilterFired(st, events, now)
		if dropped > 0 {
			metrics.AlertsSuppressed.WithLabelValues(source.Algorithm).Add(float64(dropped))
		}
		out := GroupBySymbol(kept)
		for i := range out {
			out[i].ID = uuid.NewString()
			out[i].SourceID = source.ID
			out[i].CreatedAt = now
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RowsEvaluated.WithLabelValues(source.Algorithm).Inc()
	for _, msg := range msgs {
		metrics.AlertsEmitted.WithLabelValues(source.Algorithm, string(msg.Origin)).Inc()
	}
	if len(msgs) > 0 {
		m.log.Debug().Str("symbol", symbol).Int("alerts", len(msgs)).Msg("row evaluated")
	}
	return msgs, nil
}

// EvaluateSnapshot evaluates every row of a snapshot in order. It stops at the first state
// store failure and returns the messages gathered so far.
func (m *Monitor) EvaluateSnapshot(ctx context.Context, source *models.DataSource, rows []fields.Row) ([]models.AlertMessage, error) {
	var all []models.AlertMessage
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		msgs, err := m.Evaluate(ctx, source, row)
		if err != nil {
			return all, err
		}
		all = append(all, msgs...)
	}
	if source.Baseline() {
		logger.Info("Baseline established for %s (%d rows)", source.FileName(), len(rows))
	}
	return all, nil
}
