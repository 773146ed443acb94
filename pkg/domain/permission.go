package domain

// Permission is a single action on the evidence ledger.
type Permission string

const (
	PermEvidenceUpload   Permission = "evidence.upload"
	PermEvidenceRead     Permission = "evidence.read"
	PermFIRFile          Permission = "fir.file"
	PermCaseCreate       Permission = "case.create"
	PermCaseRead         Permission = "case.read"
	PermCustodyTransfer  Permission = "custody.transfer"
	PermCaseAccessGrant  Permission = "case_access.grant"
	PermCaseAccessRevoke Permission = "case_access.revoke"
	PermRoleAssign       Permission = "role.assign"
	PermRoleRevoke       Permission = "role.revoke"
)

// rolePermissions lists what each non-superuser role may do. Court holds
// every permission and is not listed.
var rolePermissions = map[Role][]Permission{
	RoleOfficer: {
		PermFIRFile,
		PermCaseCreate,
		PermCaseRead,
		PermEvidenceUpload,
		PermEvidenceRead,
		PermCustodyTransfer,
	},
	RoleForensic: {
		PermCaseRead,
		PermEvidenceUpload,
		PermEvidenceRead,
		PermCustodyTransfer,
	},
	RoleLawyer: {
		PermCaseRead,
		PermEvidenceRead,
	},
}

// Can reports whether r holds p.
func (r Role) Can(p Permission) bool {
	if r.IsSuperuser() {
		return true
	}
	for _, granted := range rolePermissions[r] {
		if granted == p {
			return true
		}
	}
	return false
}

// Permissions returns the permissions held by r.
func (r Role) Permissions() []Permission {
	if r.IsSuperuser() {
		return AllPermissions()
	}
	return append([]Permission(nil), rolePermissions[r]...)
}

// AllPermissions returns every known permission.
func AllPermissions() []Permission {
	return []Permission{
		PermEvidenceUpload,
		PermEvidenceRead,
		PermFIRFile,
		PermCaseCreate,
		PermCaseRead,
		PermCustodyTransfer,
		PermCaseAccessGrant,
		PermCaseAccessRevoke,
		PermRoleAssign,
		PermRoleRevoke,
	}
}
