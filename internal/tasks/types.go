package tasks

import "time"

// Task Types
const (
	// Campaign related tasks
	TaskTypeCampaignProcess   = "campaign:process"
	TaskTypeCampaignSend      = "campaign:send"
	TaskTypeCampaignReconcile = "campaign:reconcile"
	TaskTypeCampaignSchedule  = "campaign:schedule"

	// Contact related tasks
	TaskTypeContactImport = "contact:import"

	// Domain related tasks
	TaskTypeDomainVerification = "domain:verify"
	TaskTypeDomainCheck        = "domain:check"
)

// Task Queues
const (
	QueueCritical = "critical" // per-recipient sends
	QueueDefault  = "default"  // campaign expansion, imports
	QueueLow      = "low"      // periodic maintenance
)

// Queues lists every queue with its priority weight.
var Queues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

// Task Timeouts
const (
	TimeoutShort  = 1 * time.Minute
	TimeoutMedium = 5 * time.Minute
	TimeoutLong   = 30 * time.Minute
)

// Task Retry Settings
const (
	RetryMax     = 5
	RetryDefault = 3
	RetryMin     = 1
)

// Task Payloads
type CampaignProcessTask struct {
	CampaignID string `json:"campaign_id"`
	Cursor     string `json:"cursor"`
}

type CampaignSendTask struct {
	RecipientID string `json:"recipient_id"`
	CampaignID  string `json:"campaign_id"`
}

type ContactImportTask struct {
	ImportID string `json:"import_id"`
}

type DomainVerificationTask struct {
	DomainID string `json:"domain_id"`
}
