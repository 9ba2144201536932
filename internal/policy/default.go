package policy

// Имена инструментов шлюза.
const (
	ToolHealth          = "sovereign.health"
	ToolListDownstreams = "sovereign.list_downstreams"
	ToolCallDownstream  = "sovereign.call_downstream"
	ToolGetState        = "project.get_state"
	ToolGetHistory      = "project.get_history"
	ToolEventAppend     = "event.append"
	ToolVerdictSet      = "verdict.set"
	ToolTaskSetActive   = "task.set_active"
	ToolTaskSetStatus   = "task.set_status"
	ToolProofAppend     = "proof.append"
)

// DefaultTables — боевые allowlist'ы.
func DefaultTables() Tables {
	return Tables{
		Inbound: []string{
			ToolHealth,
			ToolListDownstreams,
			ToolCallDownstream,
			ToolGetState,
			ToolGetHistory,
			ToolEventAppend,
			ToolVerdictSet,
			ToolTaskSetActive,
			ToolTaskSetStatus,
			ToolProofAppend,
		},
		WriteOnly: []string{
			ToolEventAppend,
			ToolVerdictSet,
			ToolTaskSetActive,
			ToolTaskSetStatus,
			ToolProofAppend,
		},
		Downstream: map[string][]string{
			"stitch": {
				"list_projects",
				"get_project",
				"list_screens",
				"get_screen",
				"fetch_screen_code",
				"fetch_screen_image",
				"generate_screen_fr",
			},
			"memory_accelerator": {
				"memory_index_status",
				"memory_list_recent",
				"memory_reindex",
				"memory_search",
			},
		},
		DownstreamRead: map[string][]string{
			"stitch": {
				"list_projects",
				"get_project",
				"list_screens",
				"get_screen",
				"fetch_screen_code",
				"fetch_screen_image",
			},
			"memory_accelerator": {
				"memory_index_status",
				"memory_list_recent",
				"memory_search",
			},
		},
	}
}

// Default строит Enforcer из DefaultTables; паникует при нарушении инвариантов.
func Default() *Enforcer {
	return MustNew(DefaultTables())
}
