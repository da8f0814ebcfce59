package domain

// VersionMap maps a service name to an opaque version string.
// Built fresh on every resolution and never persisted.
type VersionMap map[string]string

// ImageMap maps a service name to its full image reference.
type ImageMap map[string]string

// ServiceUpdate describes one pending version change.
type ServiceUpdate struct {
	Service string
	From    string
	To      string
}

// UpdatePlan is the outcome of diffing current against latest versions.
type UpdatePlan struct {
	Updates []ServiceUpdate
	// NotFound lists selected services absent from the current version map.
	// They are skipped, not updated.
	NotFound []string
}

// Empty reports whether the plan contains no version changes.
func (p UpdatePlan) Empty() bool {
	return len(p.Updates) == 0
}

// ServiceNames returns the names of the services the plan updates.
func (p UpdatePlan) ServiceNames() []string {
	names := make([]string, 0, len(p.Updates))
	for _, u := range p.Updates {
		names = append(names, u.Service)
	}
	return names
}
