// Package workbook implements the spreadsheet half of the annotation
// round-trip protocol. Sheets are declared as data rather than
// hand-coded per type, so the reader and writer can both walk the same
// declaration and a startup self-check can prove they agree on which
// columns are editable.
package workbook

import "github.com/sqlguardian/auditor/internal/core"

// Column describes one spreadsheet column.
type Column struct {
	Header   string
	Editable bool
	// Key marks a column that participates in composite-key derivation
	// for this sheet's finding type (ignored for Cover/Instances/Actions).
	Key bool
}

// SheetSpec declares one data sheet: its finding type (empty for the
// non-finding sheets Cover/Instances/Actions) and its column layout. The
// hidden Row UUID column is implicit -- every finding sheet gets it as
// column A, not listed here.
type SheetSpec struct {
	Name        string
	FindingType core.FindingType
	Columns     []Column
}

// StandardAnnotationColumns are appended to every finding sheet; they are
// the operator-editable surface.
var StandardAnnotationColumns = []Column{
	{Header: "Review Status", Editable: true},
	{Header: "Justification", Editable: true},
	{Header: "Notes", Editable: true},
	{Header: "Purpose", Editable: true},
	{Header: "Last Reviewed", Editable: true},
}

// Sheets is the full declaration backing the report's sheet list. Each
// finding sheet carries its key columns (which drive composite-key
// identity), then Status, Description and Recommendation, then the
// standard annotation columns; no per-type fact columns are written.
var Sheets = []SheetSpec{
	{Name: "Cover"},
	{Name: "Instances"},
	{
		Name: "SA Account", FindingType: core.FindingSAAccount,
		Columns: keyed("Server", "Instance"),
	},
	{
		Name: "Server Logins", FindingType: core.FindingLogin,
		Columns: keyed("Server", "Instance", "Login Name"),
	},
	{
		Name: "Sensitive Roles", FindingType: core.FindingServerRoleMember,
		Columns: keyed("Server", "Instance", "Role", "Member"),
	},
	{
		Name: "Configuration", FindingType: core.FindingConfig,
		Columns: keyed("Server", "Instance", "Setting"),
	},
	{
		Name: "Services", FindingType: core.FindingService,
		Columns: keyed("Server", "Instance", "Service Name"),
	},
	{
		Name: "Client Protocols", FindingType: core.FindingClientProtocol,
		Columns: keyed("Server", "Instance", "Protocol"),
	},
	{
		Name: "Databases", FindingType: core.FindingDatabase,
		Columns: keyed("Server", "Instance", "Database"),
	},
	{
		Name: "Database Users", FindingType: core.FindingDBUser,
		Columns: keyed("Server", "Instance", "Database", "User Name"),
	},
	{
		Name: "Database Roles", FindingType: core.FindingDBRoleMember,
		Columns: keyed("Server", "Instance", "Database", "Role", "Member"),
	},
	{
		Name: "Role Matrix", FindingType: core.FindingDBRoleMember,
		Columns: keyed("Server", "Instance", "Database", "Role", "Member"),
	},
	{
		Name: "Permission Grants", FindingType: core.FindingPermission,
		Columns: keyed("Server", "Instance", "Scope", "Database", "Grantee", "Permission", "Target"),
	},
	{
		Name: "Orphaned Users", FindingType: core.FindingOrphanedUser,
		Columns: keyed("Server", "Instance", "Database", "User Name"),
	},
	{
		Name: "Linked Servers", FindingType: core.FindingLinkedServer,
		Columns: keyed("Server", "Instance", "Linked Name"),
	},
	{
		Name: "Triggers", FindingType: core.FindingTrigger,
		Columns: keyed("Server", "Instance", "Scope", "Database", "Trigger Name", "Event"),
	},
	{
		Name: "Backups", FindingType: core.FindingBackup,
		Columns: keyed("Server", "Instance", "Database", "Recovery Model"),
	},
	{
		Name: "Audit Settings", FindingType: core.FindingAuditSettings,
		Columns: keyed("Server", "Instance", "Setting"),
	},
	{
		Name: "Encryption", FindingType: core.FindingEncryption,
		Columns: keyed("Server", "Instance", "Key Type", "Key Name"),
	},
	{Name: "Actions"},
}

func keyed(headers ...string) []Column {
	cols := make([]Column, 0, len(headers)+2+len(StandardAnnotationColumns))
	for _, h := range headers {
		cols = append(cols, Column{Header: h, Key: true})
	}
	cols = append(cols, Column{Header: "Status"}, Column{Header: "Description"}, Column{Header: "Recommendation"})
	cols = append(cols, StandardAnnotationColumns...)
	return cols
}

// EditableColumns returns the header names of a sheet's operator-editable
// columns.
func (s SheetSpec) EditableColumns() []string {
	var out []string
	for _, c := range s.Columns {
		if c.Editable {
			out = append(out, c.Header)
		}
	}
	return out
}

// KeyColumns returns the header names that participate in this sheet's
// composite key.
func (s SheetSpec) KeyColumns() []string {
	var out []string
	for _, c := range s.Columns {
		if c.Key {
			out = append(out, c.Header)
		}
	}
	return out
}
