// Package outreach defines the core types shared by the contact-discovery pipeline.
package outreach

import (
	"encoding/json"
	"time"
)

// ContactStatus is the outcome of the most recent contact check for a creator.
type ContactStatus string

// Contact status values persisted on creator_outreach.contact_status.
const (
	ContactNotChecked ContactStatus = "not_checked"
	ContactCompleted  ContactStatus = "completed"
	ContactNotFound   ContactStatus = "not_found"
	ContactBlocked    ContactStatus = "blocked"
	ContactError      ContactStatus = "error"
)

// ContactStatuses lists every status in reporting order.
var ContactStatuses = []ContactStatus{
	ContactCompleted,
	ContactNotFound,
	ContactBlocked,
	ContactError,
	ContactNotChecked,
}

// OutreachStatus is the human-owned funnel state of a creator.
type OutreachStatus string

// Outreach funnel values. Only OutreachNotContacted is ever written by the pipeline.
const (
	OutreachNotContacted OutreachStatus = "not_contacted"
	OutreachContacted    OutreachStatus = "contacted"
	OutreachAccepted     OutreachStatus = "accepted"
	OutreachDeclined     OutreachStatus = "declined"
	OutreachNoResponse   OutreachStatus = "no_response"
	OutreachPartnership  OutreachStatus = "partnership"
)

// CredentialStatus tracks whether an API credential can still be used.
type CredentialStatus string

// Credential status values persisted in firecrawl_accounts.status.
const (
	CredentialActive    CredentialStatus = "active"
	CredentialExhausted CredentialStatus = "exhausted"
)

// Website is one link listed on a creator profile.
type Website struct {
	URL    string `json:"url"`
	Domain string `json:"domain,omitempty"`
	Type   string `json:"type,omitempty"`
}

// Creator is the upstream snapshot of a campaign creator.
type Creator struct {
	ID        int64           `json:"id"`
	Slug      string          `json:"slug"`
	Name      string          `json:"name"`
	Websites  []Website       `json:"websites"`
	DataHash  string          `json:"data_hash"`
	UpdatedAt time.Time       `json:"updated_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Project is the upstream snapshot of one crowdfunding campaign.
type Project struct {
	ID              int64           `json:"id"`
	CreatorID       int64           `json:"creator_id"`
	Name            string          `json:"name"`
	State           string          `json:"state"`
	CreatedAtSource *time.Time      `json:"created_at_source,omitempty"`
	DataHash        string          `json:"data_hash"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// Snapshot is one upstream delivery of creators and projects.
type Snapshot struct {
	Creators []Creator `json:"creators"`
	Projects []Project `json:"projects"`
}

// SocialFlags are the auto-derived presence flags of a creator's link list.
type SocialFlags struct {
	Instagram    bool `json:"has_instagram"`
	Facebook     bool `json:"has_facebook"`
	Twitter      bool `json:"has_twitter"`
	YouTube      bool `json:"has_youtube"`
	TikTok       bool `json:"has_tiktok"`
	LinkedIn     bool `json:"has_linkedin"`
	Patreon      bool `json:"has_patreon"`
	Discord      bool `json:"has_discord"`
	Twitch       bool `json:"has_twitch"`
	Bluesky      bool `json:"has_bluesky"`
	OtherWebsite bool `json:"has_other_website"`
}

// CreatorOutreach is the per-creator enrichment and outreach row.
type CreatorOutreach struct {
	CreatorID int64       `json:"creator_id"`
	Flags     SocialFlags `json:"flags"`

	Email              string        `json:"email,omitempty"`
	EmailSourceURL     string        `json:"email_source_url,omitempty"`
	HasContactForm     bool          `json:"has_contact_form"`
	ContactFormURL     string        `json:"contact_form_url,omitempty"`
	LastContactCheckAt *time.Time    `json:"last_contact_check_at,omitempty"`
	ContactStatus      ContactStatus `json:"contact_status"`
	ContactError       string        `json:"contact_error,omitempty"`
	ContactAttempts    int           `json:"contact_attempts"`
	SiteHash           string        `json:"site_hash,omitempty"`
	HasAnyContact      bool          `json:"has_any_contact"`

	OutreachStatus OutreachStatus `json:"outreach_status"`
	Notes          string         `json:"notes,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Priority       int            `json:"priority"`
	FollowUpDate   *time.Time     `json:"follow_up_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OutreachPatch carries the incoming values of one merge. Nil fields are absent.
type OutreachPatch struct {
	CreatorID int64
	Flags     *SocialFlags

	Email              *string
	EmailSourceURL     *string
	HasContactForm     *bool
	ContactFormURL     *string
	LastContactCheckAt *time.Time
	ContactStatus      *ContactStatus
	ContactError       *string
	ContactAttempts    *int
	SiteHash           *string

	OutreachStatus *OutreachStatus
	Notes          *string
	Tags           []string
	Priority       *int
	FollowUpDate   *time.Time
}

// Credential is one API key for the extraction service.
type Credential struct {
	ID          string           `json:"id"`
	Email       string           `json:"email"`
	APIKey      string           `json:"-"`
	Status      CredentialStatus `json:"status"`
	ExhaustedAt *time.Time       `json:"exhausted_at,omitempty"`
	LastUsedAt  *time.Time       `json:"last_used_at,omitempty"`
}

// BlockedDomain records a domain the extraction service refuses to process.
type BlockedDomain struct {
	Domain    string    `json:"domain"`
	Reason    string    `json:"reason"`
	Source    string    `json:"source"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PipelineState is the singleton watermark row.
type PipelineState struct {
	ID                   int             `json:"id"`
	LastRunAt            *time.Time      `json:"last_run_at,omitempty"`
	LastProjectCreatedAt *time.Time      `json:"last_project_created_at,omitempty"`
	LastContactCheckAt   *time.Time      `json:"last_contact_check_at,omitempty"`
	LastSiteHash         string          `json:"last_site_hash,omitempty"`
	RunNotes             json.RawMessage `json:"run_notes,omitempty"`
}

// CandidateRow is one creator joined with its outreach row, if any.
type CandidateRow struct {
	Creator  Creator
	Outreach *CreatorOutreach
}

// Candidate is a creator selected for contact extraction.
type Candidate struct {
	CreatorID int64
	Slug      string
	Name      string
	Site      string
	// Sites are tried in order until both signals are found. Site comes first.
	Sites            []string
	Domain           string
	SiteHash         string
	Reason           string
	Priority         int
	PreviousAttempts int
}

// ExtractionResult is the per-creator outcome of one worker invocation.
type ExtractionResult struct {
	CreatorID      int64         `json:"creator_id"`
	Site           string        `json:"site"`
	Domain         string        `json:"domain"`
	SiteHash       string        `json:"site_hash"`
	Status         ContactStatus `json:"status"`
	Email          string        `json:"email,omitempty"`
	EmailSourceURL string        `json:"email_source_url,omitempty"`
	HasContactForm bool          `json:"has_contact_form"`
	ContactFormURL string        `json:"contact_form_url,omitempty"`
	Error          string        `json:"error,omitempty"`
	Attempts       int           `json:"attempts"`
	CheckedAt      time.Time     `json:"checked_at"`
	PagesScraped   int           `json:"pages_scraped"`
	Calls          int           `json:"calls"`
}

// Found reports whether any contact method was discovered.
func (r ExtractionResult) Found() bool {
	return r.Email != "" || r.HasContactForm
}

// Patch converts the result into a merge patch. Empty discoveries stay absent.
// ContactAttempts carries a delta of one check; the merge adds it to whatever
// the locked row holds, so Attempts is informational only.
func (r ExtractionResult) Patch() OutreachPatch {
	status := r.Status
	errText := r.Error
	attempts := 1
	checked := r.CheckedAt
	patch := OutreachPatch{
		CreatorID:          r.CreatorID,
		ContactStatus:      &status,
		ContactError:       &errText,
		ContactAttempts:    &attempts,
		LastContactCheckAt: &checked,
	}
	if r.SiteHash != "" {
		hash := r.SiteHash
		patch.SiteHash = &hash
	}
	if r.Email != "" {
		email, source := r.Email, r.EmailSourceURL
		patch.Email = &email
		if source != "" {
			patch.EmailSourceURL = &source
		}
	}
	if r.HasContactForm {
		has, formURL := true, r.ContactFormURL
		patch.HasContactForm = &has
		if formURL != "" {
			patch.ContactFormURL = &formURL
		}
	}
	defaultStatus := OutreachNotContacted
	patch.OutreachStatus = &defaultStatus
	return patch
}

// UpsertOutcome describes what a single guarded upsert did.
type UpsertOutcome string

// Upsert outcomes reported by snapshot and outreach writes.
const (
	OutcomeInserted  UpsertOutcome = "inserted"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeUnchanged UpsertOutcome = "unchanged"
)

// EntityError pins a merge failure to one entity.
type EntityError struct {
	EntityID string `json:"entity_id"`
	Message  string `json:"message"`
}

// MergeReport summarizes one merge call.
type MergeReport struct {
	Inserted  int           `json:"inserted"`
	Updated   int           `json:"updated"`
	Unchanged int           `json:"unchanged"`
	Failed    int           `json:"failed"`
	Errors    []EntityError `json:"errors,omitempty"`
}

// Record counts one successful outcome.
func (r *MergeReport) Record(outcome UpsertOutcome) {
	switch outcome {
	case OutcomeInserted:
		r.Inserted++
	case OutcomeUpdated:
		r.Updated++
	default:
		r.Unchanged++
	}
}

// Fail counts one isolated entity failure.
func (r *MergeReport) Fail(entityID string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, EntityError{EntityID: entityID, Message: err.Error()})
}

// Add folds another report into r.
func (r *MergeReport) Add(other MergeReport) {
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Unchanged += other.Unchanged
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
}

// SnapshotReport summarizes a snapshot merge per entity type.
type SnapshotReport struct {
	Creators MergeReport `json:"creators"`
	Projects MergeReport `json:"projects"`
	Outreach MergeReport `json:"outreach"`
	// LatestProjectCreatedAt is the newest source creation time seen.
	LatestProjectCreatedAt *time.Time `json:"latest_project_created_at,omitempty"`
}

// ItemError is a sampled per-item failure shown in run summaries.
type ItemError struct {
	CreatorID int64         `json:"creator_id"`
	Status    ContactStatus `json:"status"`
	Message   string        `json:"message"`
}

// RunSummary is the operator-facing report of one contact run.
type RunSummary struct {
	RunID        string                `json:"run_id"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at"`
	DryRun       bool                  `json:"dry_run"`
	Truncated    bool                  `json:"truncated"`
	Candidates   int                   `json:"candidates"`
	Processed    int                   `json:"processed"`
	StatusCounts map[ContactStatus]int `json:"status_counts"`
	Merge        MergeReport           `json:"merge"`
	Errors       []ItemError           `json:"errors,omitempty"`
	SiteHashes   []string              `json:"-"`
}
