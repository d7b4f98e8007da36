package branch

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/macroscope-ai/macroscope/config"
)

// SQLExecutor runs ranked query templates against the analytics store.
// Template selection is prioritized, not first-match: candidates are scored
// against the resolved country, focus symbol and route type, and a top-ranked
// candidate that returns zero rows falls through to the next one. Every
// attempted target is recorded for diagnosability.
type SQLExecutor struct {
	db     *sql.DB
	cfg    config.SQLBranchConfig
	home   string
	logger *log.Logger
}

// NewSQLExecutor wires the executor to an open database handle.
func NewSQLExecutor(db *sql.DB, cfg config.SQLBranchConfig, homeCountry string, logger *log.Logger) *SQLExecutor {
	if logger == nil {
		logger = log.New(log.Writer(), "[SQL] ", log.LstdFlags)
	}
	return &SQLExecutor{db: db, cfg: cfg, home: homeCountry, logger: logger}
}

func (e *SQLExecutor) Source() Source { return SourceSQL }

// Execute tries ranked candidates until one yields rows. Query exceptions are
// recorded and demoted to the next candidate; Error status is returned only
// when every candidate failed with a store exception.
func (e *SQLExecutor) Execute(ctx context.Context, scope Scope) (Result, error) {
	start := time.Now()
	res := Result{Source: SourceSQL, Status: StatusEmpty}

	candidates := e.rank(scope)
	if len(candidates) == 0 {
		res.Status = StatusEmpty
		res.Elapsed = time.Since(start)
		return res, nil
	}

	anyMissing := false
	failures := 0
	var lastErr error
	for _, tpl := range candidates {
		res.Attempts = append(res.Attempts, tpl.Name)

		args, filters, missing := e.bind(tpl, scope)
		if missing {
			anyMissing = true
		}

		rows, err := e.query(ctx, tpl.Query, args)
		if err != nil {
			failures++
			lastErr = &Error{Branch: SourceSQL, Err: err}
			e.logger.Printf("template %s failed: %v", tpl.Name, err)
			continue
		}
		if len(rows) == 0 {
			continue
		}

		res.Table = tpl.Name
		res.Rows = rows
		res.Filters = filters
		// only the winning template's own binding decides degradation;
		// under-bound candidates that fell through do not taint it
		res.Status = StatusOK
		if missing {
			res.Status = StatusDegraded
		}
		res.Elapsed = time.Since(start)
		return res, nil
	}

	res.Elapsed = time.Since(start)
	if failures == len(candidates) && lastErr != nil {
		res.Status = StatusError
		res.Err = lastErr.Error()
		return res, lastErr
	}
	if anyMissing {
		res.Status = StatusDegraded
	}
	return res, nil
}

func (e *SQLExecutor) query(ctx context.Context, q string, args []interface{}) ([]Row, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return ScanRows(rows, e.cfg.MaxRows)
}

// rank orders candidates by match against the resolved scope. A template
// naming countries the scope does not match is excluded outright.
func (e *SQLExecutor) rank(scope Scope) []config.SQLTemplate {
	type scored struct {
		tpl   config.SQLTemplate
		score int
	}
	country := scope.Country
	if country == "" {
		country = e.home
	}

	var ranked []scored
	for _, tpl := range e.cfg.Templates {
		score := 0
		if len(tpl.Countries) > 0 {
			if !containsFold(tpl.Countries, country) {
				continue
			}
			score += 2
		}
		if len(tpl.Symbols) > 0 {
			if scope.Symbol == "" || !containsFold(tpl.Symbols, scope.Symbol) {
				continue
			}
			score += 2
		}
		if len(tpl.RouteTypes) > 0 {
			if !containsFold(tpl.RouteTypes, scope.RouteType) {
				continue
			}
			score++
		}
		ranked = append(ranked, scored{tpl: tpl, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].tpl.Priority != ranked[j].tpl.Priority {
			return ranked[i].tpl.Priority > ranked[j].tpl.Priority
		}
		return ranked[i].tpl.Name < ranked[j].tpl.Name
	})

	out := make([]config.SQLTemplate, len(ranked))
	for i, s := range ranked {
		out[i] = s.tpl
	}
	return out
}

// bind builds positional args for a template from the scope. A required
// scope field that is absent gets a best-effort default and flags the result
// as degraded rather than failing the branch.
func (e *SQLExecutor) bind(tpl config.SQLTemplate, scope Scope) (args []interface{}, filters map[string]string, missing bool) {
	filters = make(map[string]string, len(tpl.Params))
	required := make(map[string]bool, len(tpl.Required))
	for _, r := range tpl.Required {
		required[strings.ToLower(r)] = true
	}
	for _, p := range tpl.Params {
		var val string
		switch strings.ToLower(p) {
		case "country":
			val = scope.Country
			if val == "" {
				val = e.home
				if required["country"] {
					missing = true
				}
			}
		case "symbol":
			val = scope.Symbol
			if val == "" && required["symbol"] {
				missing = true
			}
		default:
			val = ""
		}
		args = append(args, val)
		filters[p] = val
	}
	return args, filters, missing
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

var _ Executor = (*SQLExecutor)(nil)

// OpenSQL opens the analytics store connection used by the SQL branch.
func OpenSQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening analytics store: %w", err)
	}
	return db, nil
}
