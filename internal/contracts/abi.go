package contracts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Ledger methods.
const (
	MethodUploadEvidence    = "uploadEvidence"
	MethodGetEvidence       = "getEvidence"
	MethodFileFIR           = "fileFIR"
	MethodCreateCase        = "createCase"
	MethodGetCaseDetails    = "getCaseDetails"
	MethodTransferCustody   = "transferCustody"
	MethodGetCustodyHistory = "getCustodyHistory"
	MethodGrantCaseAccess   = "grantCaseAccess"
	MethodRevokeCaseAccess  = "revokeCaseAccess"
	MethodHasCaseAccess     = "hasCaseAccess"
)

// Registry methods.
const (
	MethodAssignRole  = "assignRole"
	MethodGetUserRole = "getUserRole"
	MethodHasRole     = "hasRole"
	MethodRevokeRole  = "revokeRole"
	MethodOwner       = "owner"
)

// Event names.
const (
	EventEvidenceUploaded   = "EvidenceUploaded"
	EventCaseCreated        = "CaseCreated"
	EventCustodyTransferred = "CustodyTransferred"
	EventFIRFiled           = "FIRFiled"
	EventCaseAccessGranted  = "CaseAccessGranted"
	EventCaseAccessRevoked  = "CaseAccessRevoked"
	EventRoleAssigned       = "RoleAssigned"
	EventRoleRevoked        = "RoleRevoked"
)

// DefaultGasLimits are the per-call ceilings. Evidence upload stores the
// most calldata; revoking a role only clears a slot.
var DefaultGasLimits = map[string]uint64{
	MethodUploadEvidence:   500_000,
	MethodFileFIR:          300_000,
	MethodCreateCase:       300_000,
	MethodTransferCustody:  200_000,
	MethodGrantCaseAccess:  150_000,
	MethodRevokeCaseAccess: 150_000,
	MethodAssignRole:       150_000,
	MethodRevokeRole:       100_000,
}

const ledgerJSON = `[
  {"type":"function","name":"uploadEvidence","stateMutability":"nonpayable",
   "inputs":[{"name":"cid","type":"string"},{"name":"hash","type":"string"},{"name":"description","type":"string"},{"name":"caseId","type":"uint256"}],
   "outputs":[{"name":"evidenceId","type":"uint256"}]},
  {"type":"function","name":"getEvidence","stateMutability":"view",
   "inputs":[{"name":"evidenceId","type":"uint256"}],
   "outputs":[{"name":"cid","type":"string"},{"name":"hash","type":"string"},{"name":"description","type":"string"},{"name":"caseId","type":"uint256"},{"name":"uploader","type":"address"},{"name":"timestamp","type":"uint256"}]},
  {"type":"function","name":"fileFIR","stateMutability":"nonpayable",
   "inputs":[{"name":"firNumber","type":"string"},{"name":"description","type":"string"},{"name":"location","type":"string"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"createCase","stateMutability":"nonpayable",
   "inputs":[{"name":"caseNumber","type":"string"},{"name":"description","type":"string"},{"name":"investigator","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getCaseDetails","stateMutability":"view",
   "inputs":[{"name":"caseId","type":"uint256"}],
   "outputs":[{"name":"caseNumber","type":"string"},{"name":"description","type":"string"},{"name":"investigator","type":"address"},{"name":"createdAt","type":"uint256"},{"name":"status","type":"uint8"}]},
  {"type":"function","name":"transferCustody","stateMutability":"nonpayable",
   "inputs":[{"name":"evidenceId","type":"uint256"},{"name":"recipient","type":"address"},{"name":"notes","type":"string"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getCustodyHistory","stateMutability":"view",
   "inputs":[{"name":"evidenceId","type":"uint256"}],
   "outputs":[{"name":"custodians","type":"address[]"},{"name":"timestamps","type":"uint256[]"},{"name":"notes","type":"string[]"}]},
  {"type":"function","name":"grantCaseAccess","stateMutability":"nonpayable",
   "inputs":[{"name":"caseId","type":"uint256"},{"name":"user","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"revokeCaseAccess","stateMutability":"nonpayable",
   "inputs":[{"name":"caseId","type":"uint256"},{"name":"user","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"hasCaseAccess","stateMutability":"view",
   "inputs":[{"name":"caseId","type":"uint256"},{"name":"user","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"EvidenceUploaded","anonymous":false,
   "inputs":[{"name":"evidenceId","type":"uint256","indexed":true},{"name":"uploader","type":"address","indexed":true},{"name":"cid","type":"string","indexed":false}]},
  {"type":"event","name":"CaseCreated","anonymous":false,
   "inputs":[{"name":"caseId","type":"uint256","indexed":true},{"name":"creator","type":"address","indexed":true}]},
  {"type":"event","name":"CustodyTransferred","anonymous":false,
   "inputs":[{"name":"evidenceId","type":"uint256","indexed":true},{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true}]},
  {"type":"event","name":"FIRFiled","anonymous":false,
   "inputs":[{"name":"filedBy","type":"address","indexed":true},{"name":"firNumber","type":"string","indexed":false}]},
  {"type":"event","name":"CaseAccessGranted","anonymous":false,
   "inputs":[{"name":"caseId","type":"uint256","indexed":true},{"name":"user","type":"address","indexed":true}]},
  {"type":"event","name":"CaseAccessRevoked","anonymous":false,
   "inputs":[{"name":"caseId","type":"uint256","indexed":true},{"name":"user","type":"address","indexed":true}]}
]`

const registryJSON = `[
  {"type":"function","name":"assignRole","stateMutability":"nonpayable",
   "inputs":[{"name":"user","type":"address"},{"name":"role","type":"uint8"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getUserRole","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],
   "outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"hasRole","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"},{"name":"role","type":"uint8"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"revokeRole","stateMutability":"nonpayable",
   "inputs":[{"name":"user","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"owner","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"event","name":"RoleAssigned","anonymous":false,
   "inputs":[{"name":"user","type":"address","indexed":true},{"name":"role","type":"uint8","indexed":false},{"name":"assignedBy","type":"address","indexed":true}]},
  {"type":"event","name":"RoleRevoked","anonymous":false,
   "inputs":[{"name":"user","type":"address","indexed":true},{"name":"revokedBy","type":"address","indexed":true}]}
]`

// LedgerABI and RegistryABI are the parsed contract interfaces.
var (
	LedgerABI   = mustParse("ledger", ledgerJSON)
	RegistryABI = mustParse("registry", registryJSON)
)

func mustParse(name, def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse %s abi: %v", name, err))
	}
	return parsed
}
