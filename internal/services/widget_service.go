package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"reconciliation-engine/internal/matching"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/repositories"
	"reconciliation-engine/internal/widget"
)

// WidgetService holds the interactive widget sessions, one per statement
// line. A widget is single-threaded; the service serializes access so two
// requests on the same line never race.
type WidgetService struct {
	env        *widget.Env
	statements repositories.StatementRepository
	rules      repositories.RuleRepository
	matcher    *matching.Matcher
	validator  *ValidationService
	log        *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[int64]*widget.Widget
}

func NewWidgetService(
	env *widget.Env,
	statements repositories.StatementRepository,
	rules repositories.RuleRepository,
	matcher *matching.Matcher,
	validator *ValidationService,
	log *zap.SugaredLogger,
) *WidgetService {
	return &WidgetService{
		env:        env,
		statements: statements,
		rules:      rules,
		matcher:    matcher,
		validator:  validator,
		log:        log,
		sessions:   map[int64]*widget.Widget{},
	}
}

// Suggestion is one read-only hint shown on a line.
type Suggestion struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Snapshot is the widget state returned after every operation.
type Snapshot struct {
	StatementLineID int64          `json:"statement_line_id"`
	State           widget.State   `json:"state"`
	Lines           []*widget.Line `json:"lines"`
	Suggestions     []Suggestion   `json:"suggestions"`
}

func snapshotOf(w *widget.Widget) *Snapshot {
	snap := &Snapshot{
		StatementLineID: w.Statement().ID,
		State:           w.State(),
		Lines:           w.Lines(),
	}
	for _, l := range w.Lines() {
		if l.SuggestionText != "" {
			snap.Suggestions = append(snap.Suggestions, Suggestion{Index: l.Index, Text: l.SuggestionText})
		}
	}
	return snap
}

func (s *WidgetService) session(ctx context.Context, lineID int64) (*widget.Widget, error) {
	if w, ok := s.sessions[lineID]; ok {
		return w, nil
	}
	line, err := s.statements.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	w, err := widget.New(ctx, s.env, line)
	if err != nil {
		return nil, err
	}
	s.sessions[lineID] = w
	return w, nil
}

// Open mounts (or resumes) the widget session for a statement line.
func (s *WidgetService) Open(ctx context.Context, lineID int64) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.session(ctx, lineID)
	if err != nil {
		return nil, err
	}
	return snapshotOf(w), nil
}

// Close drops the session without touching persistent state.
func (s *WidgetService) Close(lineID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, lineID)
}

func (s *WidgetService) withSession(ctx context.Context, lineID int64, fn func(*widget.Widget) error) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.session(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if err := fn(w); err != nil {
		return nil, err
	}
	return snapshotOf(w), nil
}

// SetField routes one field-level edit into the widget.
func (s *WidgetService) SetField(ctx context.Context, lineID int64, index int, field string, value FieldValue) (*Snapshot, error) {
	return s.withSession(ctx, lineID, func(w *widget.Widget) error {
		switch field {
		case "account_id":
			return w.SetAccount(ctx, index, value.ID)
		case "partner_id":
			return w.SetPartner(ctx, index, value.ID)
		case "balance":
			return w.SetBalance(ctx, index, value.Amount)
		case "amount_currency":
			return w.SetAmountCurrency(ctx, index, value.Amount)
		case "tax_ids":
			return w.SetTaxes(ctx, index, value.IDs)
		case "label":
			return w.SetLabel(index, value.Text)
		default:
			return fmt.Errorf("%w: unknown widget field %q", models.ErrPrecondition, field)
		}
	})
}

// FieldValue carries the payload of a field edit; exactly one member is
// meaningful depending on the field.
type FieldValue struct {
	ID     int64           `json:"id,omitempty"`
	IDs    []int64         `json:"ids,omitempty"`
	Amount decimal.Decimal `json:"amount,omitempty"`
	Text   string          `json:"text,omitempty"`
}

func (s *WidgetService) MountLineInEdit(ctx context.Context, lineID int64, index int) (*Snapshot, error) {
	return s.withSession(ctx, lineID, func(w *widget.Widget) error {
		return w.MountLineInEdit(index)
	})
}

func (s *WidgetService) AddNewAmls(ctx context.Context, lineID int64, openLineIDs []int64) (*Snapshot, error) {
	return s.withSession(ctx, lineID, func(w *widget.Widget) error {
		return w.AddNewAmls(ctx, openLineIDs)
	})
}

func (s *WidgetService) RemoveNewAmls(ctx context.Context, lineID int64, openLineIDs []int64) (*Snapshot, error) {
	return s.withSession(ctx, lineID, func(w *widget.Widget) error {
		return w.RemoveNewAmls(ctx, openLineIDs)
	})
}

func (s *WidgetService) SelectReconcileModel(ctx context.Context, lineID, modelID int64) (*Snapshot, error) {
	return s.withSession(ctx, lineID, func(w *widget.Widget) error {
		model, err := s.rules.GetModel(ctx, modelID)
		if err != nil {
			return err
		}
		return w.SelectReconcileModel(ctx, model)
	})
}

func (s *WidgetService) ApplyLineSuggestion(ctx context.Context, lineID int64, index int) (*Snapshot, error) {
	return s.withSession(ctx, lineID, func(w *widget.Widget) error {
		return w.ApplyLineSuggestion(ctx, index)
	})
}

func (s *WidgetService) ApplyEarlyPaymentDiscount(ctx context.Context, lineID, accountID int64, percent decimal.Decimal, taxIDs []int64) (*Snapshot, error) {
	return s.withSession(ctx, lineID, func(w *widget.Widget) error {
		return w.ApplyEarlyPaymentDiscount(ctx, accountID, percent, taxIDs)
	})
}

// TriggerMatching runs the company's rules against the line, with no recency
// bound since the user asked explicitly.
func (s *WidgetService) TriggerMatching(ctx context.Context, lineID int64) (*Snapshot, error) {
	return s.withSession(ctx, lineID, func(w *widget.Widget) error {
		rules, err := s.rules.ListModels(ctx, w.Statement().CompanyID)
		if err != nil {
			return err
		}
		_, err = s.matcher.Apply(ctx, w, rules)
		return err
	})
}

// Validate posts the session's widget.
func (s *WidgetService) Validate(ctx context.Context, lineID int64) (*Snapshot, *ValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.session(ctx, lineID)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.validator.Validate(ctx, w)
	if err != nil {
		return nil, nil, err
	}
	return snapshotOf(w), res, nil
}

// Reset reverses a committed reconciliation and reseeds the widget.
func (s *WidgetService) Reset(ctx context.Context, lineID int64) (*Snapshot, error) {
	return s.withSession(ctx, lineID, func(w *widget.Widget) error {
		return s.validator.Reset(ctx, w)
	})
}

// FastCounterpart books the whole open amount to one account and validates.
func (s *WidgetService) FastCounterpart(ctx context.Context, lineID, accountID int64, label string) (*Snapshot, *ValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.session(ctx, lineID)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.validator.FastCounterpart(ctx, w, accountID, label)
	if err != nil {
		return nil, nil, err
	}
	return snapshotOf(w), res, nil
}

// Overview returns per-line snapshots for a whole statement.
func (s *WidgetService) Overview(ctx context.Context, statementID int64) ([]*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines, err := s.statements.LinesForStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	out := make([]*Snapshot, 0, len(lines))
	for _, line := range lines {
		w, err := s.session(ctx, line.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, snapshotOf(w))
	}
	return out, nil
}
