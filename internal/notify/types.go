// Package notify contains the notification dispatcher, preference resolution
// and the per-channel senders.
package notify

// Recruitment event types.
const (
	TypeCandidateAssigned      = "CANDIDATE_ASSIGNED"
	TypeCandidateApplied       = "CANDIDATE_APPLIED"
	TypeCandidateStatusChanged = "CANDIDATE_STATUS_CHANGED"
	TypeJobPosted              = "JOB_POSTED"
	TypeJobClosed              = "JOB_CLOSED"
	TypeInterviewScheduled     = "INTERVIEW_SCHEDULED"
	TypeInterviewCancelled     = "INTERVIEW_CANCELLED"
	TypeOfferExtended          = "OFFER_EXTENDED"
	TypeAnalysisComplete       = "ANALYSIS_COMPLETE"
	TypeMention                = "MENTION"
	TypeSystemAnnouncement     = "SYSTEM_ANNOUNCEMENT"
	TypeSecurityAlert          = "SECURITY_ALERT"
)

// Categories group types for preference matching.
const (
	CategoryCandidates = "candidates"
	CategoryJobs       = "jobs"
	CategoryInterviews = "interviews"
	CategorySecurity   = "security"
	CategorySystem     = "system"
	CategoryGeneral    = "general"
)

// Priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

type classification struct {
	category string
	priority string
}

var typeDefaults = map[string]classification{
	TypeCandidateAssigned:      {CategoryCandidates, PriorityHigh},
	TypeCandidateApplied:       {CategoryCandidates, PriorityMedium},
	TypeCandidateStatusChanged: {CategoryCandidates, PriorityMedium},
	TypeJobPosted:              {CategoryJobs, PriorityMedium},
	TypeJobClosed:              {CategoryJobs, PriorityLow},
	TypeInterviewScheduled:     {CategoryInterviews, PriorityHigh},
	TypeInterviewCancelled:     {CategoryInterviews, PriorityHigh},
	TypeOfferExtended:          {CategoryCandidates, PriorityUrgent},
	TypeAnalysisComplete:       {CategoryCandidates, PriorityLow},
	TypeMention:                {CategoryGeneral, PriorityMedium},
	TypeSystemAnnouncement:     {CategorySystem, PriorityLow},
	TypeSecurityAlert:          {CategorySecurity, PriorityUrgent},
}

// Classify derives the category and priority for an event type. Unknown
// types land in the general/medium bucket.
func Classify(notifType string) (category, priority string) {
	if c, ok := typeDefaults[notifType]; ok {
		return c.category, c.priority
	}
	return CategoryGeneral, PriorityMedium
}
