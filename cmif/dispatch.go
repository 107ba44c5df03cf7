package cmif

import "github.com/hipc-systems/hipc-core/domain"

// CommandSpec binds one dispatch-table row to the argument layout the
// wire marshaling needs, so a service definition gives both in one
// declaration instead of hand-computing offsets elsewhere.
type CommandSpec struct {
	CmdID      domain.CmdID
	HosVerLow  domain.HosVer
	HosVerHigh domain.HosVer
	Args       []ArgSpec
	Handler    domain.HandlerFunc
}

// BuildTable validates every command's argument layout up front (so a
// malformed service definition fails at registration time, not on first
// request) and returns the resulting DispatchTable plus a CmdID->Layout
// map for use by callers that need to marshal args generically.
func BuildTable(typeTag string, specs []CommandSpec) (*domain.DispatchTable, map[domain.CmdID]*Layout, error) {
	table := &domain.DispatchTable{TypeTag: typeTag}
	layouts := make(map[domain.CmdID]*Layout, len(specs))
	for _, spec := range specs {
		layout, err := BuildLayout(spec.Args)
		if err != nil {
			return nil, nil, domain.NewError(domain.KindPreconditionViolation,
				"cmif: service %q cmd %d: %v", typeTag, spec.CmdID, err)
		}
		layouts[spec.CmdID] = layout
		table.Entries = append(table.Entries, domain.DispatchEntry{
			HosVerLow:  spec.HosVerLow,
			HosVerHigh: spec.HosVerHigh,
			CmdID:      spec.CmdID,
			Handler:    spec.Handler,
			Meta:       layout,
		})
	}
	return table, layouts, nil
}
