package widget

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/ledger"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/money"
)

// State is the widget's validity property.
type State string

const (
	StateInvalid    State = "invalid"
	StateValid      State = "valid"
	StateReconciled State = "reconciled"
)

// Env bundles the external primitives a widget consumes. One Env is shared
// across widgets; the widget itself is single-threaded and never shared.
type Env struct {
	Company    *models.Company
	Currencies money.Currencies
	Converter  *money.Converter
	Taxes      ledger.TaxComputer
	Directory  ledger.Directory
	Book       ledger.Book
}

func (e *Env) companyCur() *models.Currency {
	return e.Currencies.Get(e.Company.Currency)
}

// Widget holds the ordered line set for one statement line and keeps it
// balanced through every edit. All operations run the reaction pipeline
// before returning, so the widget is always in a consistent state.
type Widget struct {
	env     *Env
	stmt    *models.StatementLine
	journal *models.Journal

	lines     []*Line
	nextIndex int
	nextSeq   int
	formIndex int
	state     State
}

// New opens a widget on a statement line. A reconciled line is rebuilt from
// its posted move (counterparts appear as aml rows); an open line is seeded
// with the liquidity row and an auto-balance placeholder.
func New(ctx context.Context, env *Env, stmt *models.StatementLine) (*Widget, error) {
	journal, err := env.Directory.Journal(ctx, stmt.JournalID)
	if err != nil {
		return nil, err
	}
	w := &Widget{env: env, stmt: stmt, journal: journal, formIndex: -1}

	liq := w.newLine(FlagLiquidity)
	liq.AccountID = journal.BankAccountID
	liq.Currency = env.Company.Currency
	liq.AmountCurrency = stmt.Amount
	liq.Balance = stmt.Amount
	liq.Label = stmt.PaymentRef
	liq.Date = stmt.Date
	if stmt.PartnerID.Valid {
		liq.PartnerID = stmt.PartnerID.Int64
	}
	// A zero foreign amount against a nonzero company amount means the rate
	// is unknown; the liquidity row then stays in company currency.
	if stmt.ForeignCurrency.Valid && stmt.ForeignAmount.Valid && !stmt.ForeignAmount.Decimal.IsZero() {
		liq.Currency = stmt.ForeignCurrency.String
		liq.AmountCurrency = stmt.ForeignAmount.Decimal
	}

	if stmt.IsReconciled && stmt.MoveID.Valid {
		if err := w.loadPosted(ctx); err != nil {
			return nil, err
		}
		w.state = StateReconciled
		w.orderLines()
		return w, nil
	}
	if err := w.react(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// loadPosted mirrors the committed move as read-only aml rows.
func (w *Widget) loadPosted(ctx context.Context) error {
	move, err := w.env.Book.Move(ctx, w.stmt.MoveID.Int64)
	if err != nil {
		return err
	}
	for _, ml := range move.Lines {
		if ml.AccountID == w.journal.BankAccountID {
			continue // mirrored by the seeded liquidity row
		}
		l := w.newLine(FlagAml)
		l.AccountID = ml.AccountID
		l.Currency = ml.Currency
		l.AmountCurrency = ml.AmountCurrency
		l.Balance = ml.Balance
		l.Label = ml.Label
		l.Date = ml.Date
		l.Reconciled = ml.Reconciled
		l.OpenLineID = ml.ID
		l.TaxTags = ml.TaxTags
		if ml.PartnerID.Valid {
			l.PartnerID = ml.PartnerID.Int64
		}
	}
	return nil
}

func (w *Widget) newLine(flag Flag) *Line {
	l := &Line{
		Index:       w.nextIndex,
		Flag:        flag,
		ParentIndex: noParent,
		Date:        w.stmt.Date,
		seq:         w.nextSeq,
	}
	w.nextIndex++
	w.nextSeq++
	w.lines = append(w.lines, l)
	return l
}

// Statement returns the statement line the widget is mounted on.
func (w *Widget) Statement() *models.StatementLine { return w.stmt }

// CompanyCurrency returns the company currency record.
func (w *Widget) CompanyCurrency() *models.Currency { return w.env.companyCur() }

// Journal returns the statement's journal.
func (w *Widget) Journal() *models.Journal { return w.journal }

// State returns the current widget state.
func (w *Widget) State() State { return w.state }

// Lines returns the ordered line set. The slice is shared; callers must not
// mutate it.
func (w *Widget) Lines() []*Line { return w.lines }

// LineAt returns the line with the given stable index.
func (w *Widget) LineAt(index int) (*Line, error) {
	for _, l := range w.lines {
		if l.Index == index {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%w: no widget line with index %d", models.ErrPrecondition, index)
}

// MountLineInEdit marks the line currently being edited. Balances are not
// touched.
func (w *Widget) MountLineInEdit(index int) error {
	if _, err := w.LineAt(index); err != nil {
		return err
	}
	w.formIndex = index
	return nil
}

// FormIndex returns the index of the mounted line, or -1.
func (w *Widget) FormIndex() int { return w.formIndex }

func (w *Widget) ensureEditable() error {
	if w.state == StateReconciled {
		return fmt.Errorf("%w: statement line already reconciled", models.ErrPrecondition)
	}
	return nil
}

// statementRate is the units-per-company-unit rate implied by the statement
// line itself. Zero when the statement carries no usable foreign pair.
func (w *Widget) statementRate() decimal.Decimal {
	if !w.stmt.ForeignAmount.Valid {
		return decimal.Zero
	}
	return money.EffectiveRate(w.stmt.ForeignAmount.Decimal, w.stmt.Amount)
}

// convertAtStatement values an amount in ccy at the statement's own rate when
// it has one for that currency, falling back to the rate table at the
// statement date.
func (w *Widget) convertAtStatement(ctx context.Context, amount decimal.Decimal, ccy string) (decimal.Decimal, error) {
	companyCur := w.env.companyCur()
	if ccy == "" || ccy == w.env.Company.Currency {
		return money.Round(amount, companyCur), nil
	}
	if w.stmt.ForeignCurrency.Valid && w.stmt.ForeignCurrency.String == ccy {
		if rate := w.statementRate(); !rate.IsZero() {
			return money.Round(amount.Div(rate), companyCur), nil
		}
	}
	return w.env.Converter.ToCompany(ctx, amount, ccy, w.stmt.CompanyID, w.stmt.Date)
}

// AddNewAmls appends a new_aml row per invoice open line id, deduplicated.
// The initial amount is the invoice residual clamped to what the widget can
// still fund in that currency.
func (w *Widget) AddNewAmls(ctx context.Context, openLineIDs []int64) error {
	if err := w.ensureEditable(); err != nil {
		return err
	}
	for _, id := range openLineIDs {
		if w.findByOpenLine(id) != nil {
			continue
		}
		open, err := w.env.Book.OpenLine(ctx, id)
		if err != nil {
			return err
		}
		full := open.AmountResidualCurrency.Neg()
		amount := full
		avail := w.bucketGap(open.Currency, nil)
		if full.Sign() != 0 && avail.Sign() == full.Sign() && avail.Abs().Cmp(full.Abs()) < 0 {
			amount = avail
		}
		l := w.newLine(FlagNewAml)
		l.OpenLineID = id
		l.open = open
		l.Currency = open.Currency
		l.AmountCurrency = amount
		if open.Currency == "" || open.Currency == w.env.Company.Currency {
			l.Balance = amount
		}
		l.AccountID = open.AccountID
		l.PartnerID = open.PartnerID
		l.Label = open.MoveRef
	}
	return w.react(ctx)
}

// RemoveNewAmls drops the new_aml rows matched to the given open line ids,
// along with their companions.
func (w *Widget) RemoveNewAmls(ctx context.Context, openLineIDs []int64) error {
	if err := w.ensureEditable(); err != nil {
		return err
	}
	for _, id := range openLineIDs {
		if l := w.findByOpenLine(id); l != nil {
			w.removeLineAndChildren(l.Index)
		}
	}
	return w.react(ctx)
}

func (w *Widget) findByOpenLine(id int64) *Line {
	for _, l := range w.lines {
		if l.Flag == FlagNewAml && l.OpenLineID == id {
			return l
		}
	}
	return nil
}

func (w *Widget) removeLineAndChildren(index int) {
	keep := w.lines[:0]
	for _, l := range w.lines {
		if l.Index == index || l.ParentIndex == index {
			continue
		}
		keep = append(keep, l)
	}
	w.lines = keep
}

// SelectReconcileModel materializes a write-off rule's template rows as
// manual lines, replacing the residual placeholder.
func (w *Widget) SelectReconcileModel(ctx context.Context, model *models.ReconcileModel) error {
	if err := w.ensureEditable(); err != nil {
		return err
	}
	companyCur := w.env.companyCur()
	residual := w.residualCompany()
	for _, row := range model.Lines {
		var amount decimal.Decimal
		switch row.AmountType {
		case models.AmountPercentage:
			amount = money.Round(residual.Mul(row.Amount).Div(decimal.NewFromInt(100)), companyCur)
		case models.AmountFixed:
			amount = money.Round(row.Amount, companyCur)
			if residual.Sign() < 0 {
				amount = amount.Neg()
			}
		default:
			return fmt.Errorf("%w: reconcile model %q has malformed amount formula %q", models.ErrConfig, model.Name, row.AmountType)
		}
		l := w.newLine(FlagManual)
		l.AccountID = row.AccountID
		l.Currency = w.env.Company.Currency
		l.Balance = amount
		l.AmountCurrency = amount
		l.Label = row.Label
		l.taxMode = models.TaxModePriceIncluded
		if len(row.TaxIDs) > 0 {
			l.TaxIDs = append([]int64(nil), row.TaxIDs...)
			if err := w.resolveTaxes(ctx, l, models.TaxModePriceIncluded, amount); err != nil {
				return err
			}
		}
	}
	return w.react(ctx)
}

// AddWriteoff appends one manual write-off line with the given company
// amount, used by the matcher's payment-tolerance handling.
func (w *Widget) AddWriteoff(ctx context.Context, accountID int64, amount decimal.Decimal, label string, taxIDs []int64) error {
	if err := w.ensureEditable(); err != nil {
		return err
	}
	l := w.newLine(FlagManual)
	l.AccountID = accountID
	l.Currency = w.env.Company.Currency
	l.Balance = money.Round(amount, w.env.companyCur())
	l.AmountCurrency = l.Balance
	l.Label = label
	l.taxMode = models.TaxModePriceIncluded
	if len(taxIDs) > 0 {
		l.TaxIDs = append([]int64(nil), taxIDs...)
		if err := w.resolveTaxes(ctx, l, models.TaxModePriceIncluded, l.Balance); err != nil {
			return err
		}
	}
	return w.react(ctx)
}

// SetAccount reacts to an account edit. Claiming the auto-balance row with an
// explicit account converts it to a manual write-off.
func (w *Widget) SetAccount(ctx context.Context, index int, accountID int64) error {
	if err := w.ensureEditable(); err != nil {
		return err
	}
	l, err := w.LineAt(index)
	if err != nil {
		return err
	}
	if l.Flag == FlagLiquidity {
		return fmt.Errorf("%w: the liquidity line account follows the journal", models.ErrPrecondition)
	}
	if l.Flag == FlagAutoBalance {
		l.Flag = FlagManual
		l.taxMode = models.TaxModePriceIncluded
	}
	l.AccountID = accountID
	return w.react(ctx)
}

// SetPartner reacts to a partner edit.
func (w *Widget) SetPartner(ctx context.Context, index int, partnerID int64) error {
	if err := w.ensureEditable(); err != nil {
		return err
	}
	l, err := w.LineAt(index)
	if err != nil {
		return err
	}
	l.PartnerID = partnerID
	for _, child := range w.lines {
		if child.ParentIndex == l.Index {
			child.PartnerID = partnerID
		}
	}
	return w.react(ctx)
}

// SetLabel reacts to a label edit; amounts are untouched.
func (w *Widget) SetLabel(index int, label string) error {
	l, err := w.LineAt(index)
	if err != nil {
		return err
	}
	l.Label = label
	return nil
}

// SetBalance reacts to a company-amount edit. On a taxed manual line the new
// amount is the tax base and the tax set is re-resolved from it; on a
// company-currency new_aml the edit is sticky.
func (w *Widget) SetBalance(ctx context.Context, index int, v decimal.Decimal) error {
	if err := w.ensureEditable(); err != nil {
		return err
	}
	l, err := w.LineAt(index)
	if err != nil {
		return err
	}
	companyCur := w.env.companyCur()
	v = money.Round(v, companyCur)
	switch l.Flag {
	case FlagLiquidity:
		return fmt.Errorf("%w: the liquidity amount mirrors the statement line", models.ErrPrecondition)
	case FlagAutoBalance:
		l.Flag = FlagManual
		l.taxMode = models.TaxModePriceIncluded
	case FlagNewAml:
		// A foreign matched invoice derives its company value from the
		// invoice rate; only the currency amount is editable there.
		if l.Currency != "" && l.Currency != w.env.Company.Currency {
			return fmt.Errorf("%w: edit the currency amount on a foreign matched line", models.ErrPrecondition)
		}
		l.UserEdited = true
	}
	if l.Flag == FlagManual && len(l.TaxIDs) > 0 {
		// An explicit amount fixes the base: recompute taxes on top of it.
		l.taxMode = models.TaxModePriceExcluded
		if err := w.resolveTaxes(ctx, l, models.TaxModePriceExcluded, v); err != nil {
			return err
		}
		return w.react(ctx)
	}
	l.Balance = v
	if l.Currency == w.env.Company.Currency {
		l.AmountCurrency = v
	}
	return w.react(ctx)
}

// SetAmountCurrency reacts to a line-currency amount edit. On a new_aml the
// value is clamped to the invoice residual and becomes sticky.
func (w *Widget) SetAmountCurrency(ctx context.Context, index int, v decimal.Decimal) error {
	if err := w.ensureEditable(); err != nil {
		return err
	}
	l, err := w.LineAt(index)
	if err != nil {
		return err
	}
	cur := w.env.Currencies.Get(l.Currency)
	v = money.Round(v, cur)
	switch l.Flag {
	case FlagLiquidity:
		return fmt.Errorf("%w: the liquidity amount mirrors the statement line", models.ErrPrecondition)
	case FlagAutoBalance:
		l.Flag = FlagManual
		l.taxMode = models.TaxModePriceIncluded
	case FlagNewAml:
		full := l.open.AmountResidualCurrency.Neg()
		if v.Sign() != 0 && v.Sign() != full.Sign() {
			return fmt.Errorf("%w: amount sign must follow the invoice residual", models.ErrPrecondition)
		}
		if v.Abs().Cmp(full.Abs()) > 0 {
			v = full
		}
		l.UserEdited = true
	}
	l.AmountCurrency = v
	if l.Currency == w.env.Company.Currency {
		l.Balance = v
	}
	if l.Flag == FlagManual && len(l.TaxIDs) > 0 && l.Currency == w.env.Company.Currency {
		l.taxMode = models.TaxModePriceExcluded
		if err := w.resolveTaxes(ctx, l, models.TaxModePriceExcluded, v); err != nil {
			return err
		}
	}
	return w.react(ctx)
}

// SetTaxes reacts to a tax-set change on a manual (or auto-balance) line.
func (w *Widget) SetTaxes(ctx context.Context, index int, taxIDs []int64) error {
	if err := w.ensureEditable(); err != nil {
		return err
	}
	l, err := w.LineAt(index)
	if err != nil {
		return err
	}
	if l.Flag == FlagAutoBalance {
		l.Flag = FlagManual
		l.taxMode = models.TaxModePriceIncluded
	}
	if l.Flag != FlagManual {
		return fmt.Errorf("%w: taxes apply to write-off lines only", models.ErrPrecondition)
	}
	hadTaxes := len(l.TaxIDs) > 0
	l.TaxIDs = append([]int64(nil), taxIDs...)
	if len(taxIDs) == 0 {
		w.removeTaxChildren(l.Index)
		l.TaxTags = nil
		return w.react(ctx)
	}
	mode := l.taxMode
	if !hadTaxes || mode == "" {
		// First assignment splits the amount the line already carries.
		mode = models.TaxModePriceIncluded
	}
	l.taxMode = mode
	if err := w.resolveTaxes(ctx, l, mode, w.taxInputAmount(l, mode)); err != nil {
		return err
	}
	return w.react(ctx)
}

// taxInputAmount is the amount C3 starts from: the gross line amount in
// price-included mode, the current base otherwise.
func (w *Widget) taxInputAmount(l *Line, mode models.TaxMode) decimal.Decimal {
	if mode == models.TaxModePriceExcluded {
		return l.Balance
	}
	gross := l.Balance
	for _, c := range w.lines {
		if c.Flag == FlagTaxLine && c.ParentIndex == l.Index {
			gross = gross.Add(c.Balance)
		}
	}
	return gross
}

// ApplyLineSuggestion swaps the line's amount with its suggestion mirror.
func (w *Widget) ApplyLineSuggestion(ctx context.Context, index int) error {
	if err := w.ensureEditable(); err != nil {
		return err
	}
	l, err := w.LineAt(index)
	if err != nil {
		return err
	}
	if l.SuggestionText == "" {
		return fmt.Errorf("%w: line %d has no suggestion", models.ErrPrecondition, index)
	}
	l.AmountCurrency = l.SuggestionAmountCurrency
	if l.Currency == w.env.Company.Currency {
		l.Balance = l.SuggestionAmountCurrency
	}
	l.UserEdited = true
	return w.react(ctx)
}

// Reset discards every non-liquidity line and reseeds the auto-balance
// placeholder. Reversing a committed move is the validation service's job.
func (w *Widget) Reset(ctx context.Context) error {
	keep := w.lines[:0]
	for _, l := range w.lines {
		if l.Flag == FlagLiquidity {
			keep = append(keep, l)
		}
	}
	w.lines = keep
	w.formIndex = -1
	w.state = ""
	w.stmt.IsReconciled = false
	return w.react(ctx)
}

// MarkReconciled records that the backing move was posted.
func (w *Widget) MarkReconciled(moveID int64) {
	w.stmt.IsReconciled = true
	w.stmt.MoveID.Int64 = moveID
	w.stmt.MoveID.Valid = true
	w.state = StateReconciled
}

// react is the reaction pipeline run after every mutating operation.
func (w *Widget) react(ctx context.Context) error {
	if err := w.recomputeExchangeDiffs(ctx); err != nil {
		return err
	}
	if err := w.recomputeAutoBalance(ctx); err != nil {
		return err
	}
	w.recomputeSuggestions()
	w.recomputeState()
	w.orderLines()
	return nil
}

// bucketGap is the amount a line in ccy could take to zero that currency
// bucket, excluding the auto-balance placeholder and optionally one line.
func (w *Widget) bucketGap(ccy string, except *Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range w.lines {
		if l.Flag == FlagAutoBalance || l == except {
			continue
		}
		if l.Currency == ccy {
			sum = sum.Add(l.AmountCurrency)
		}
	}
	return sum.Neg()
}

// ResidualCompany is the company amount the auto-balance row would carry.
func (w *Widget) ResidualCompany() decimal.Decimal { return w.residualCompany() }

// residualCompany is the company amount still unassigned, i.e. what the
// auto-balance row would carry.
func (w *Widget) residualCompany() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range w.lines {
		if l.Flag == FlagAutoBalance {
			continue
		}
		sum = sum.Add(l.Balance)
	}
	return money.Round(sum.Neg(), w.env.companyCur())
}

func (w *Widget) recomputeAutoBalance(ctx context.Context) error {
	companyCur := w.env.companyCur()
	companySum := decimal.Zero
	buckets := map[string]decimal.Decimal{}
	for _, l := range w.lines {
		if l.Flag == FlagAutoBalance {
			continue
		}
		companySum = companySum.Add(l.Balance)
		buckets[l.Currency] = buckets[l.Currency].Add(l.AmountCurrency)
	}

	// The auto-balance row may only take over a foreign bucket when the
	// statement itself lives in that currency. Counterpart lines pulled in
	// from foreign-currency invoices settle through exchange children, so
	// their buckets close at validation, not here.
	liqCur := w.liquidityCurrency()
	foreignStmtOpen := liqCur != "" && liqCur != w.env.Company.Currency &&
		!money.IsZero(buckets[liqCur], w.env.Currencies.Get(liqCur))

	needed := foreignStmtOpen || !money.IsZero(companySum, companyCur)
	auto := w.autoBalanceLine()
	if !needed {
		if auto != nil {
			w.removeLineAndChildren(auto.Index)
		}
		return nil
	}
	if auto == nil {
		auto = w.newLine(FlagAutoBalance)
		auto.AccountID = w.journal.SuspenseAccountID
	}
	if foreignStmtOpen {
		auto.Currency = liqCur
		auto.AmountCurrency = money.Round(buckets[liqCur].Neg(), w.env.Currencies.Get(liqCur))
	} else {
		auto.Currency = w.env.Company.Currency
		auto.AmountCurrency = money.Round(companySum.Neg(), companyCur)
	}
	auto.Balance = money.Round(companySum.Neg(), companyCur)

	// Partner propagation: a partner with no explicit account resolves to
	// its receivable or payable depending on the statement direction,
	// preferring the dominant-rank side when both are configured.
	if auto.PartnerID != 0 && auto.AccountID == w.journal.SuspenseAccountID {
		partner, err := w.env.Directory.Partner(ctx, auto.PartnerID)
		if err != nil {
			return err
		}
		if acc := defaultPartnerAccount(partner, w.stmt.Amount.Sign() >= 0); acc != 0 {
			auto.AccountID = acc
		}
	}
	return nil
}

func defaultPartnerAccount(p *models.Partner, inbound bool) int64 {
	switch {
	case p.ReceivableAccountID != 0 && p.PayableAccountID != 0:
		if p.CustomerRank > p.SupplierRank {
			return p.ReceivableAccountID
		}
		if p.SupplierRank > p.CustomerRank {
			return p.PayableAccountID
		}
		if inbound {
			return p.ReceivableAccountID
		}
		return p.PayableAccountID
	case p.ReceivableAccountID != 0:
		return p.ReceivableAccountID
	case p.PayableAccountID != 0:
		return p.PayableAccountID
	}
	return 0
}

func (w *Widget) liquidityCurrency() string {
	for _, l := range w.lines {
		if l.Flag == FlagLiquidity {
			return l.Currency
		}
	}
	return ""
}

func (w *Widget) autoBalanceLine() *Line {
	for _, l := range w.lines {
		if l.Flag == FlagAutoBalance {
			return l
		}
	}
	return nil
}

func (w *Widget) recomputeState() {
	if w.stmt.IsReconciled {
		w.state = StateReconciled
		return
	}
	companyCur := w.env.companyCur()
	companySum := decimal.Zero
	buckets := map[string]decimal.Decimal{}
	for _, l := range w.lines {
		companySum = companySum.Add(l.Balance)
		buckets[l.Currency] = buckets[l.Currency].Add(l.AmountCurrency)
	}
	balanced := money.IsZero(companySum, companyCur)
	// Only the statement's own currency bucket must close in-widget; foreign
	// counterpart buckets settle through their exchange children at
	// validation, so the company balance already accounts for them.
	if liqCur := w.liquidityCurrency(); liqCur != "" && liqCur != w.env.Company.Currency {
		if !money.IsZero(buckets[liqCur], w.env.Currencies.Get(liqCur)) {
			balanced = false
		}
	}
	auto := w.autoBalanceLine()
	postable := auto == nil || auto.AccountID != 0
	if balanced && postable {
		w.state = StateValid
		return
	}
	w.state = StateInvalid
}

// orderLines rebuilds the stable semantic ordering: liquidity first, each
// counterpart immediately followed by its tax and exchange-diff children,
// the early-payment block last before any terminal auto-balance.
func (w *Widget) orderLines() {
	bySeq := append([]*Line(nil), w.lines...)
	sort.SliceStable(bySeq, func(i, j int) bool { return bySeq[i].seq < bySeq[j].seq })

	var out []*Line
	appendChildren := func(parent *Line) {
		for _, c := range bySeq {
			if c.ParentIndex == parent.Index && c.Flag == FlagTaxLine {
				out = append(out, c)
			}
		}
		for _, c := range bySeq {
			if c.ParentIndex == parent.Index && c.Flag == FlagExchangeDiff {
				out = append(out, c)
			}
		}
	}
	for _, l := range bySeq {
		if l.Flag == FlagLiquidity {
			out = append(out, l)
		}
	}
	for _, l := range bySeq {
		if l.IsCounterpart() {
			out = append(out, l)
			appendChildren(l)
		}
	}
	for _, l := range bySeq {
		if l.Flag == FlagEarlyPayment {
			out = append(out, l)
			appendChildren(l)
		}
	}
	for _, l := range bySeq {
		if l.Flag == FlagAutoBalance {
			out = append(out, l)
		}
	}
	w.lines = out
}
