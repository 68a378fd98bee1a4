package repository

// Outbox action names. Subscribers branch on these to decide between
// patching a single flag and re-bootstrapping.
const (
	ActionFlagCreated      = "flag_created"
	ActionFlagUpdated      = "flag_updated"
	ActionFlagToggled      = "flag_toggled"
	ActionFlagArchived     = "flag_archived"
	ActionFlagDeleted      = "flag_deleted"
	ActionVariantsReplaced = "variants_replaced"
	ActionOverlayUpdated   = "overlay_updated"
	ActionRulesReplaced    = "rules_replaced"
	ActionScheduleSet      = "schedule_set"
	ActionScheduleCleared  = "schedule_cleared"
	ActionScheduleFired    = "schedule_fired"
	ActionSegmentUpdated   = "segment_updated"
)
