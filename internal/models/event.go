package models

// Event type names the platform emits. Dispatching any name outside this
// set is a silent no-op.
const (
	EventTestExecutionCreated  = "test_execution.created"
	EventTestExecutionReported = "test_execution.reported"
	EventReportCreated         = "report.created"
	EventTestCaseCreated       = "test_case.created"
	EventTestCaseUpdated       = "test_case.updated"
	EventTestScenarioCreated   = "test_scenario.created"
	EventInvolvementAccepted   = "involvement.accepted"
)

var eventTypes = map[string]struct{}{
	EventTestExecutionCreated:  {},
	EventTestExecutionReported: {},
	EventReportCreated:         {},
	EventTestCaseCreated:       {},
	EventTestCaseUpdated:       {},
	EventTestScenarioCreated:   {},
	EventInvolvementAccepted:   {},
}

// KnownEventType reports whether name is part of the fixed event vocabulary.
func KnownEventType(name string) bool {
	_, ok := eventTypes[name]
	return ok
}

// EventTypes returns the full vocabulary, for validation error messages.
func EventTypes() []string {
	return []string{
		EventTestExecutionCreated,
		EventTestExecutionReported,
		EventReportCreated,
		EventTestCaseCreated,
		EventTestCaseUpdated,
		EventTestScenarioCreated,
		EventInvolvementAccepted,
	}
}
