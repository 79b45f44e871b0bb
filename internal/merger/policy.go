package merger

import (
	"slices"
	"time"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

// Policy says how an incoming value meets the stored one.
type Policy string

// Field policies.
const (
	// Overwrite always takes the incoming value.
	Overwrite Policy = "overwrite"
	// Coalesce takes the incoming value only when it is non-empty.
	Coalesce Policy = "coalesce"
	// SetIfDefault writes only while the stored value is still the default.
	SetIfDefault Policy = "set_if_default"
	// Increment adds the incoming delta to the stored count.
	Increment Policy = "increment"
)

// Policies is the field-level merge table for creator_outreach.
var Policies = map[string]Policy{
	"has_*":                 Overwrite,
	"email":                 Coalesce,
	"email_source_url":      Coalesce,
	"has_contact_form":      Coalesce,
	"contact_form_url":      Coalesce,
	"last_contact_check_at": Coalesce,
	"site_hash":             Coalesce,
	"contact_status":        Overwrite,
	"contact_error":         Overwrite,
	"contact_attempts":      Increment,
	"outreach_status":       SetIfDefault,
	"notes":                 SetIfDefault,
	"tags":                  SetIfDefault,
	"priority":              SetIfDefault,
	"follow_up_date":        SetIfDefault,
}

// Apply merges patch into existing (nil for a new row) and reports whether the
// stored row would change. now stamps created_at and updated_at.
func Apply(existing *outreach.CreatorOutreach, patch outreach.OutreachPatch, now time.Time) (outreach.CreatorOutreach, bool) {
	var next outreach.CreatorOutreach
	if existing != nil {
		next = *existing
		next.Tags = slices.Clone(existing.Tags)
	} else {
		next = outreach.CreatorOutreach{
			CreatorID:      patch.CreatorID,
			ContactStatus:  outreach.ContactNotChecked,
			OutreachStatus: outreach.OutreachNotContacted,
			CreatedAt:      now,
		}
	}

	if patch.Flags != nil && Policies["has_*"] == Overwrite {
		next.Flags = *patch.Flags
	}

	mergeValue(Policies["email"], &next.Email, patch.Email, "")
	mergeValue(Policies["email_source_url"], &next.EmailSourceURL, patch.EmailSourceURL, "")
	mergeValue(Policies["has_contact_form"], &next.HasContactForm, patch.HasContactForm, false)
	mergeValue(Policies["contact_form_url"], &next.ContactFormURL, patch.ContactFormURL, "")
	// A check already recorded on the row is a replay and does not count again.
	if existing == nil || !sameTime(existing.LastContactCheckAt, patch.LastContactCheckAt) {
		mergeCount(Policies["contact_attempts"], &next.ContactAttempts, patch.ContactAttempts)
	}
	mergeTime(Policies["last_contact_check_at"], &next.LastContactCheckAt, patch.LastContactCheckAt)
	mergeValue(Policies["site_hash"], &next.SiteHash, patch.SiteHash, "")
	if patch.ContactStatus != nil && *patch.ContactStatus != "" {
		mergeValue(Policies["contact_status"], &next.ContactStatus, patch.ContactStatus, outreach.ContactNotChecked)
	}
	mergeValue(Policies["contact_error"], &next.ContactError, patch.ContactError, "")

	mergeValue(Policies["outreach_status"], &next.OutreachStatus, patch.OutreachStatus, outreach.OutreachNotContacted)
	mergeValue(Policies["notes"], &next.Notes, patch.Notes, "")
	if len(patch.Tags) > 0 && len(next.Tags) == 0 && Policies["tags"] == SetIfDefault {
		next.Tags = slices.Clone(patch.Tags)
	}
	mergeValue(Policies["priority"], &next.Priority, patch.Priority, 0)
	mergeTime(Policies["follow_up_date"], &next.FollowUpDate, patch.FollowUpDate)

	next.HasAnyContact = next.Email != "" || next.HasContactForm

	if existing != nil && sameRow(*existing, next) {
		return *existing, false
	}
	next.UpdatedAt = now
	return next, true
}

func mergeValue[T comparable](policy Policy, dst *T, incoming *T, def T) {
	if incoming == nil {
		return
	}
	var zero T
	switch policy {
	case Overwrite:
		*dst = *incoming
	case Coalesce:
		if *incoming != zero {
			*dst = *incoming
		}
	case SetIfDefault:
		if *dst == zero || *dst == def {
			*dst = *incoming
		}
	}
}

func mergeCount(policy Policy, dst *int, incoming *int) {
	if incoming == nil {
		return
	}
	if policy == Increment {
		*dst += *incoming
		return
	}
	mergeValue(policy, dst, incoming, 0)
}

func mergeTime(policy Policy, dst **time.Time, incoming *time.Time) {
	if incoming == nil || incoming.IsZero() {
		return
	}
	value := *incoming
	switch policy {
	case Overwrite, Coalesce:
		*dst = &value
	case SetIfDefault:
		if *dst == nil {
			*dst = &value
		}
	}
}

// sameRow compares every persisted field except the bookkeeping timestamps.
func sameRow(a, b outreach.CreatorOutreach) bool {
	return a.CreatorID == b.CreatorID &&
		a.Flags == b.Flags &&
		a.Email == b.Email &&
		a.EmailSourceURL == b.EmailSourceURL &&
		a.HasContactForm == b.HasContactForm &&
		a.ContactFormURL == b.ContactFormURL &&
		sameTime(a.LastContactCheckAt, b.LastContactCheckAt) &&
		a.ContactStatus == b.ContactStatus &&
		a.ContactError == b.ContactError &&
		a.ContactAttempts == b.ContactAttempts &&
		a.SiteHash == b.SiteHash &&
		a.HasAnyContact == b.HasAnyContact &&
		a.OutreachStatus == b.OutreachStatus &&
		a.Notes == b.Notes &&
		slices.Equal(a.Tags, b.Tags) &&
		a.Priority == b.Priority &&
		sameTime(a.FollowUpDate, b.FollowUpDate)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
