package domain

import (
	"strings"
	"time"
)

// Kind identifies the type of registry resource a command targets.
type Kind string

const (
	KindDomain  Kind = "domain"
	KindHost    Kind = "host"
	KindContact Kind = "contact"
)

// EndOfTime is the sentinel deletion time of a live resource. Comparisons
// against it behave like "never deleted".
var EndOfTime = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// Status represents a lock or lifecycle flag on a resource. A resource
// carries a set of these; each command verb declares which ones forbid it.
type Status string

const (
	StatusOK              Status = "ok"
	StatusPendingDelete   Status = "pending_delete"
	StatusPendingTransfer Status = "pending_transfer"

	StatusClientDeleteProhibited   Status = "client_delete_prohibited"
	StatusServerDeleteProhibited   Status = "server_delete_prohibited"
	StatusClientRenewProhibited    Status = "client_renew_prohibited"
	StatusServerRenewProhibited    Status = "server_renew_prohibited"
	StatusClientTransferProhibited Status = "client_transfer_prohibited"
	StatusServerTransferProhibited Status = "server_transfer_prohibited"
	StatusClientUpdateProhibited   Status = "client_update_prohibited"
	StatusServerUpdateProhibited   Status = "server_update_prohibited"
)

// StatusSet is an unordered set of resource statuses.
type StatusSet map[Status]struct{}

// NewStatusSet builds a set from the given statuses.
func NewStatusSet(statuses ...Status) StatusSet {
	s := make(StatusSet, len(statuses))
	for _, st := range statuses {
		s[st] = struct{}{}
	}
	return s
}

// Has reports whether the set contains the given status.
func (s StatusSet) Has(status Status) bool {
	_, ok := s[status]
	return ok
}

// ContainsAny reports whether the set shares any member with other.
func (s StatusSet) ContainsAny(other StatusSet) bool {
	for st := range other {
		if s.Has(st) {
			return true
		}
	}
	return false
}

// With returns a copy of the set with the given statuses added.
func (s StatusSet) With(statuses ...Status) StatusSet {
	out := make(StatusSet, len(s)+len(statuses))
	for st := range s {
		out[st] = struct{}{}
	}
	for _, st := range statuses {
		out[st] = struct{}{}
	}
	return out
}

// Without returns a copy of the set with the given statuses removed.
func (s StatusSet) Without(statuses ...Status) StatusSet {
	out := make(StatusSet, len(s))
	for st := range s {
		out[st] = struct{}{}
	}
	for _, st := range statuses {
		delete(out, st)
	}
	return out
}

// Sorted returns the members in lexical order, for stable serialization.
func (s StatusSet) Sorted() []Status {
	out := make([]Status, 0, len(s))
	for st := range s {
		out = append(out, st)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Resource is one generation of a registered domain, host, or contact.
// Values are immutable once committed; every mutation commits a successor
// version under the same repo id with an incremented revision.
type Resource struct {
	// RepoID is the internal identifier, stable for the lifetime of a
	// generation. Re-registering a deleted name starts a new generation
	// with a new RepoID.
	RepoID           string
	Kind             Kind
	ForeignKey       string // externally visible name
	TLD              string // jurisdiction; empty for contacts
	CreationTime     time.Time
	DeletionTime     time.Time // EndOfTime while live
	SponsoringClient string
	AuthInfo         string // shared secret; empty when none is set
	Statuses         StatusSet
	ExpirationTime   time.Time // domains only
	Transfer         TransferData

	// Recurring auto-renew side-effect entities currently anchored to
	// this resource. Empty for hosts and contacts.
	AutorenewBillingEventID string
	AutorenewPollMessageID  string

	// Revision is the optimistic-concurrency token checked at commit.
	Revision int64
}

// IsLive reports whether the resource exists at the given instant:
// creationTime <= now < deletionTime.
func (r Resource) IsLive(now time.Time) bool {
	return !now.Before(r.CreationTime) && now.Before(r.DeletionTime)
}

// TLDOf extracts the jurisdiction label from a dotted name. Returns ""
// when the name has no dot (e.g. a contact id).
func TLDOf(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return ""
	}
	return name[i+1:]
}

// LeapSafeAddYears adds whole years to an instant, clamping February 29 to
// February 28 when the target year is not a leap year.
func LeapSafeAddYears(t time.Time, years int) time.Time {
	if t.Month() == time.February && t.Day() == 29 {
		clamped := time.Date(t.Year(), time.February, 28,
			t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
		return clamped.AddDate(years, 0, 0)
	}
	return t.AddDate(years, 0, 0)
}

// ExtendRegistrationWithCap extends an expiration by the given years,
// capped so the result never exceeds maxYears from now.
func ExtendRegistrationWithCap(now, currentExpiration time.Time, years, maxYears int) time.Time {
	extended := LeapSafeAddYears(currentExpiration, years)
	ceiling := LeapSafeAddYears(now, maxYears)
	if extended.After(ceiling) {
		return ceiling
	}
	return extended
}
