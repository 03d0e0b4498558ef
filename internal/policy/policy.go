package policy

import (
	"time"

	"github.com/neomorfeo/registriq/internal/domain"
)

// Compile-time check: Provider implements domain.PolicyProvider.
var _ domain.PolicyProvider = (*Provider)(nil)

// TLDPolicy holds the per-jurisdiction parameters: which fee each
// operation carries, per year, in minor units of Currency.
type TLDPolicy struct {
	Currency     string
	CreateCost   int64
	RenewCost    int64
	TransferCost int64
}

// Provider is a static, read-only policy source. It is a plain value
// handed to the pipeline at construction; nothing reads it ambiently.
type Provider struct {
	transferLengths map[domain.Kind]time.Duration
	disallowed      map[domain.Verb]domain.StatusSet
	maxYears        int
	tlds            map[string]TLDPolicy
}

// Default returns the stock registry policy: five-day automatic transfer
// windows, a ten-year registration horizon, and a small allowed-TLD list.
func Default() *Provider {
	return &Provider{
		transferLengths: map[domain.Kind]time.Duration{
			domain.KindDomain:  5 * 24 * time.Hour,
			domain.KindContact: 5 * 24 * time.Hour,
		},
		disallowed: map[domain.Verb]domain.StatusSet{
			domain.VerbUpdate: domain.NewStatusSet(
				domain.StatusPendingDelete,
				domain.StatusClientUpdateProhibited,
				domain.StatusServerUpdateProhibited,
			),
			domain.VerbRenew: domain.NewStatusSet(
				domain.StatusPendingDelete,
				domain.StatusClientRenewProhibited,
				domain.StatusServerRenewProhibited,
			),
			domain.VerbDelete: domain.NewStatusSet(
				domain.StatusPendingDelete,
				domain.StatusClientDeleteProhibited,
				domain.StatusServerDeleteProhibited,
			),
			domain.VerbTransferRequest: domain.NewStatusSet(
				domain.StatusPendingDelete,
				domain.StatusClientTransferProhibited,
				domain.StatusServerTransferProhibited,
			),
		},
		maxYears: 10,
		tlds: map[string]TLDPolicy{
			"tld":     {Currency: "USD", CreateCost: 1300, RenewCost: 1100, TransferCost: 1100},
			"example": {Currency: "USD", CreateCost: 1300, RenewCost: 1100, TransferCost: 1100},
			"com":     {Currency: "USD", CreateCost: 900, RenewCost: 900, TransferCost: 900},
		},
	}
}

// WithTLD returns a copy of the provider that also allows the given TLD.
func (p *Provider) WithTLD(tld string, tp TLDPolicy) *Provider {
	out := *p
	out.tlds = make(map[string]TLDPolicy, len(p.tlds)+1)
	for k, v := range p.tlds {
		out.tlds[k] = v
	}
	out.tlds[tld] = tp
	return &out
}

// AutomaticTransferLength returns how long a transfer request stays
// pending before the server approves it implicitly.
func (p *Provider) AutomaticTransferLength(kind domain.Kind) time.Duration {
	return p.transferLengths[kind]
}

// DisallowedStatuses returns the statuses that forbid the given verb.
// Verbs without an entry (info, transfer resolutions) are never blocked
// by status.
func (p *Provider) DisallowedStatuses(verb domain.Verb, kind domain.Kind) domain.StatusSet {
	return p.disallowed[verb]
}

// MaxRegistrationYears is the horizon cap: no commitment may push a
// domain's expiration further than this many years from now.
func (p *Provider) MaxRegistrationYears() int {
	return p.maxYears
}

// TLDAllowed reports whether the registry operates the given TLD.
func (p *Provider) TLDAllowed(tld string) bool {
	_, ok := p.tlds[tld]
	return ok
}

// CreateCost returns the fee for registering under tld for the period.
func (p *Provider) CreateCost(tld string, years int) domain.Fee {
	tp := p.tlds[tld]
	return domain.Fee{Amount: tp.CreateCost * int64(years), Currency: tp.Currency}
}

// RenewCost returns the fee for renewing under tld for the period.
func (p *Provider) RenewCost(tld string, years int) domain.Fee {
	tp := p.tlds[tld]
	return domain.Fee{Amount: tp.RenewCost * int64(years), Currency: tp.Currency}
}

// TransferCost returns the fee charged to the gaining registrar when a
// transfer concludes in an ownership change.
func (p *Provider) TransferCost(tld string, years int) domain.Fee {
	tp := p.tlds[tld]
	return domain.Fee{Amount: tp.TransferCost * int64(years), Currency: tp.Currency}
}
