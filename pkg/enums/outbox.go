package enums

// OutboxStatus tracks the publication state of a lifecycle outbox row.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

func (s OutboxStatus) String() string {
	return string(s)
}

// LifecycleEventType names the subscription transitions announced on the
// outbox for downstream consumers.
type LifecycleEventType string

const (
	LifecycleTrialStarted LifecycleEventType = "subscription.trial_started"
	LifecycleActivated    LifecycleEventType = "subscription.activated"
	LifecyclePlanChanged  LifecycleEventType = "subscription.plan_changed"
	LifecycleCanceled     LifecycleEventType = "subscription.canceled"
	LifecyclePastDue      LifecycleEventType = "subscription.past_due"
	LifecycleReactivated  LifecycleEventType = "subscription.reactivated"
)

func (t LifecycleEventType) String() string {
	return string(t)
}
