package store

import "fmt"

// DynamoDB schema constants for single-table design
const (
	// Table attributes
	AttrPK     = "PK"
	AttrSK     = "SK"
	AttrGSI1PK = "GSI1PK"
	AttrGSI1SK = "GSI1SK"

	AttrEntityType = "entity_type"

	// Entity types
	EntityTypeWorkflowResult = "WorkflowResult"

	// Index names
	IndexWorkflowIndex = "GSI1"
)

// Key builders
//
// Result keys: PK=RESULT#{runID}, SK=META
// GSI1 keys:   GSI1PK=WF#{workflowID}, GSI1SK=STATUS#{status}#{completedAt}
//
// GSI1 lists a workflow's history newest-last; the status prefix on the
// sort key lets ListResults narrow to one terminal status server-side.

func resultPK(runID string) string {
	return fmt.Sprintf("RESULT#%s", runID)
}

func resultSK() string {
	return "META"
}

func resultGSI1PK(workflowID string) string {
	return fmt.Sprintf("WF#%s", workflowID)
}

func resultGSI1SK(status, completedAt string) string {
	return fmt.Sprintf("STATUS#%s#%s", status, completedAt)
}

func statusPrefix(status string) string {
	return fmt.Sprintf("STATUS#%s#", status)
}
