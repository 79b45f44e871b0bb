package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

// lockCreator serialises writers for one creator even before its
// creator_outreach row exists, where FOR UPDATE has nothing to lock.
const lockCreator = `SELECT pg_advisory_xact_lock($1)`

const selectOutreachForUpdate = `
SELECT to_jsonb(o) FROM creator_outreach o WHERE o.creator_id = $1 FOR UPDATE`

const upsertOutreach = `
INSERT INTO creator_outreach (
	creator_id,
	has_instagram, has_facebook, has_twitter, has_youtube, has_tiktok, has_linkedin,
	has_patreon, has_discord, has_twitch, has_bluesky, has_other_website,
	email, email_source_url, has_contact_form, contact_form_url, last_contact_check_at,
	contact_status, contact_error, contact_attempts, site_hash, has_any_contact,
	outreach_status, notes, tags, priority, follow_up_date,
	created_at, updated_at
) VALUES (
	$1,
	$2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12,
	$13, $14, $15, $16, $17,
	$18, $19, $20, $21, $22,
	$23, $24, $25, $26, $27,
	$28, $29
)
ON CONFLICT (creator_id) DO UPDATE SET
	has_instagram = EXCLUDED.has_instagram,
	has_facebook = EXCLUDED.has_facebook,
	has_twitter = EXCLUDED.has_twitter,
	has_youtube = EXCLUDED.has_youtube,
	has_tiktok = EXCLUDED.has_tiktok,
	has_linkedin = EXCLUDED.has_linkedin,
	has_patreon = EXCLUDED.has_patreon,
	has_discord = EXCLUDED.has_discord,
	has_twitch = EXCLUDED.has_twitch,
	has_bluesky = EXCLUDED.has_bluesky,
	has_other_website = EXCLUDED.has_other_website,
	email = EXCLUDED.email,
	email_source_url = EXCLUDED.email_source_url,
	has_contact_form = EXCLUDED.has_contact_form,
	contact_form_url = EXCLUDED.contact_form_url,
	last_contact_check_at = EXCLUDED.last_contact_check_at,
	contact_status = EXCLUDED.contact_status,
	contact_error = EXCLUDED.contact_error,
	contact_attempts = EXCLUDED.contact_attempts,
	site_hash = EXCLUDED.site_hash,
	has_any_contact = EXCLUDED.has_any_contact,
	outreach_status = EXCLUDED.outreach_status,
	notes = EXCLUDED.notes,
	tags = EXCLUDED.tags,
	priority = EXCLUDED.priority,
	follow_up_date = EXCLUDED.follow_up_date,
	updated_at = EXCLUDED.updated_at`

// outreachRecord mirrors to_jsonb(creator_outreach).
type outreachRecord struct {
	CreatorID          int64      `json:"creator_id"`
	HasInstagram       bool       `json:"has_instagram"`
	HasFacebook        bool       `json:"has_facebook"`
	HasTwitter         bool       `json:"has_twitter"`
	HasYouTube         bool       `json:"has_youtube"`
	HasTikTok          bool       `json:"has_tiktok"`
	HasLinkedIn        bool       `json:"has_linkedin"`
	HasPatreon         bool       `json:"has_patreon"`
	HasDiscord         bool       `json:"has_discord"`
	HasTwitch          bool       `json:"has_twitch"`
	HasBluesky         bool       `json:"has_bluesky"`
	HasOtherWebsite    bool       `json:"has_other_website"`
	Email              *string    `json:"email"`
	EmailSourceURL     *string    `json:"email_source_url"`
	HasContactForm     bool       `json:"has_contact_form"`
	ContactFormURL     *string    `json:"contact_form_url"`
	LastContactCheckAt *time.Time `json:"last_contact_check_at"`
	ContactStatus      string     `json:"contact_status"`
	ContactError       *string    `json:"contact_error"`
	ContactAttempts    int        `json:"contact_attempts"`
	SiteHash           *string    `json:"site_hash"`
	HasAnyContact      bool       `json:"has_any_contact"`
	OutreachStatus     string     `json:"outreach_status"`
	Notes              *string    `json:"notes"`
	Tags               []string   `json:"tags"`
	Priority           int        `json:"priority"`
	FollowUpDate       *time.Time `json:"follow_up_date"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func decodeOutreach(raw []byte) (*outreach.CreatorOutreach, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rec outreachRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode creator_outreach row: %w", err)
	}
	return &outreach.CreatorOutreach{
		CreatorID: rec.CreatorID,
		Flags: outreach.SocialFlags{
			Instagram:    rec.HasInstagram,
			Facebook:     rec.HasFacebook,
			Twitter:      rec.HasTwitter,
			YouTube:      rec.HasYouTube,
			TikTok:       rec.HasTikTok,
			LinkedIn:     rec.HasLinkedIn,
			Patreon:      rec.HasPatreon,
			Discord:      rec.HasDiscord,
			Twitch:       rec.HasTwitch,
			Bluesky:      rec.HasBluesky,
			OtherWebsite: rec.HasOtherWebsite,
		},
		Email:              deref(rec.Email),
		EmailSourceURL:     deref(rec.EmailSourceURL),
		HasContactForm:     rec.HasContactForm,
		ContactFormURL:     deref(rec.ContactFormURL),
		LastContactCheckAt: rec.LastContactCheckAt,
		ContactStatus:      outreach.ContactStatus(rec.ContactStatus),
		ContactError:       deref(rec.ContactError),
		ContactAttempts:    rec.ContactAttempts,
		SiteHash:           deref(rec.SiteHash),
		HasAnyContact:      rec.HasAnyContact,
		OutreachStatus:     outreach.OutreachStatus(rec.OutreachStatus),
		Notes:              deref(rec.Notes),
		Tags:               rec.Tags,
		Priority:           rec.Priority,
		FollowUpDate:       rec.FollowUpDate,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}, nil
}

func outreachArgs(row outreach.CreatorOutreach) []any {
	tags := row.Tags
	if tags == nil {
		tags = []string{}
	}
	return []any{
		row.CreatorID,
		row.Flags.Instagram, row.Flags.Facebook, row.Flags.Twitter, row.Flags.YouTube, row.Flags.TikTok, row.Flags.LinkedIn,
		row.Flags.Patreon, row.Flags.Discord, row.Flags.Twitch, row.Flags.Bluesky, row.Flags.OtherWebsite,
		nullString(row.Email), nullString(row.EmailSourceURL), row.HasContactForm, nullString(row.ContactFormURL), row.LastContactCheckAt,
		string(row.ContactStatus), nullString(row.ContactError), row.ContactAttempts, nullString(row.SiteHash), row.HasAnyContact,
		string(row.OutreachStatus), nullString(row.Notes), tags, row.Priority, row.FollowUpDate,
		row.CreatedAt, row.UpdatedAt,
	}
}

// MutateOutreach takes a transaction-scoped advisory lock on the creator,
// reads its outreach row, lets fn compute the next version and writes it back
// in the same transaction. The lock is released on commit or rollback.
func (s *Store) MutateOutreach(ctx context.Context, creatorID int64, fn outreach.MutateFunc) (outreach.UpsertOutcome, error) {
	var outcome outreach.UpsertOutcome
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockCreator, creatorID); err != nil {
			return wrapErr("lock creator", err)
		}
		var raw []byte
		err := tx.QueryRow(ctx, selectOutreachForUpdate, creatorID).Scan(&raw)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return wrapErr("lock creator_outreach", err)
		}
		existing, err := decodeOutreach(raw)
		if err != nil {
			return err
		}
		next, changed, err := fn(existing)
		if err != nil {
			return err
		}
		if !changed {
			outcome = outreach.OutcomeUnchanged
			return nil
		}
		next.CreatorID = creatorID
		if next.CreatedAt.IsZero() {
			next.CreatedAt = s.clock.Now()
		}
		if next.UpdatedAt.IsZero() {
			next.UpdatedAt = s.clock.Now()
		}
		if _, err := tx.Exec(ctx, upsertOutreach, outreachArgs(next)...); err != nil {
			return wrapErr("upsert creator_outreach", err)
		}
		outcome = outreach.OutcomeUpdated
		if existing == nil {
			outcome = outreach.OutcomeInserted
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("mutate outreach for creator %d: %w", creatorID, err)
	}
	return outcome, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
