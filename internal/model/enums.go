package model

type Role string

const (
	RoleAdmin Role = "admin"
	RoleSales Role = "sales"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleSales
}

type ActivationState string

const (
	ActivationActive   ActivationState = "active"
	ActivationInactive ActivationState = "inactive"
)

type MergeOutcome string

const (
	MergeInserted  MergeOutcome = "inserted"
	MergeUpdated   MergeOutcome = "updated"
	MergeUnchanged MergeOutcome = "unchanged"
)

type SyncTrigger string

const (
	SyncTriggerManual    SyncTrigger = "manual"
	SyncTriggerScheduled SyncTrigger = "scheduled"
)

type SyncRunStatus string

const (
	SyncRunSucceeded SyncRunStatus = "succeeded"
	SyncRunFailed    SyncRunStatus = "failed"
)
