package config

// SettingsDiff describes what changed between two settings snapshots.
// Only fields the supervisor and gate can apply without a restart are
// tracked, mirroring the teacher's hot-reload-safe diff.
type SettingsDiff struct {
	PermissionsChanged bool
	GroupChanges       []GroupDiff
	DeveloperOverrideChanged bool
	NewDeveloperOverride     DeveloperOverride
	MemoryEnabledChanged     bool
	NewMemoryEnabled         bool
	LLMEndpointChanged       bool
}

// GroupDiff describes the before/after policy value for a single tool
// group.
type GroupDiff struct {
	Group ToolGroup
	Old   PolicyValue
	New   PolicyValue
}

// Diff compares old and new settings and reports what changed. Only tracks
// changes that are safe to apply without restarting the process.
func Diff(old, new AppSettings) SettingsDiff {
	d := SettingsDiff{}

	for _, g := range AllGroups {
		oldVal := old.Permissions.GroupPolicy(g)
		newVal := new.Permissions.GroupPolicy(g)
		if oldVal != newVal {
			d.GroupChanges = append(d.GroupChanges, GroupDiff{Group: g, Old: oldVal, New: newVal})
			d.PermissionsChanged = true
		}
	}

	if old.Permissions.DeveloperOverride != new.Permissions.DeveloperOverride {
		d.DeveloperOverrideChanged = true
		d.NewDeveloperOverride = new.Permissions.DeveloperOverride
		d.PermissionsChanged = true
	}

	if old.Permissions.MemoryEnabled != new.Permissions.MemoryEnabled {
		d.MemoryEnabledChanged = true
		d.NewMemoryEnabled = new.Permissions.MemoryEnabled
		d.PermissionsChanged = true
	}

	if old.LLM != new.LLM {
		d.LLMEndpointChanged = true
	}

	return d
}
