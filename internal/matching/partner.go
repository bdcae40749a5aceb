package matching

import (
	"context"
	"sort"
	"strings"

	"reconciliation-engine/internal/ledger"
	"reconciliation-engine/internal/models"
)

// InferPartner resolves the partner a statement line belongs to, first match
// wins: the explicit partner hint, then a unique owner among bank accounts
// with the same digits (archived and cross-company included), then a name
// match on the company's active partners.
//
// The result is a pure function of the statement metadata and the
// partner/bank-account tables.
func InferPartner(ctx context.Context, dir ledger.Directory, line *models.StatementLine) (int64, error) {
	if line.PartnerID.Valid && line.PartnerID.Int64 != 0 {
		return line.PartnerID.Int64, nil
	}

	if line.AccountNumber != "" {
		accounts, err := dir.BankAccountsByNumber(ctx, line.AccountNumber)
		if err != nil {
			return 0, err
		}
		owners := map[int64]bool{}
		for _, a := range accounts {
			owners[a.PartnerID] = true
		}
		if len(owners) == 1 {
			for id := range owners {
				return id, nil
			}
		}
		// Duplicate account numbers across companies are soft: fall
		// through to name matching.
	}

	if line.PayerName != "" {
		partners, err := dir.ActivePartners(ctx, line.CompanyID)
		if err != nil {
			return 0, err
		}
		if p := matchByName(partners, line.PayerName); p != nil {
			return p.ID, nil
		}
	}
	return 0, nil
}

// matchByName ranks exact case-insensitive matches above prefix matches,
// shorter names above longer, ids ascending on ties.
func matchByName(partners []*models.Partner, name string) *models.Partner {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil
	}
	type ranked struct {
		p     *models.Partner
		exact bool
	}
	var candidates []ranked
	for _, p := range partners {
		pn := strings.ToLower(p.Name)
		switch {
		case pn == needle:
			candidates = append(candidates, ranked{p, true})
		case strings.HasPrefix(needle, pn) || strings.HasPrefix(pn, needle):
			candidates = append(candidates, ranked{p, false})
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.exact != b.exact {
			return a.exact
		}
		if len(a.p.Name) != len(b.p.Name) {
			return len(a.p.Name) < len(b.p.Name)
		}
		return a.p.ID < b.p.ID
	})
	return candidates[0].p
}
