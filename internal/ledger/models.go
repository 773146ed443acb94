package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"

	dErrors "guardian/pkg/domain-errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// UploadRequest is one evidence item. CID is optional: when empty it is
// derived from Content as a CIDv1 raw sha2-256.
type UploadRequest struct {
	Content     []byte
	CID         string
	Description string
	// CaseID 0 uploads evidence not yet linked to a case.
	CaseID *big.Int
}

func (r UploadRequest) Validate() error {
	if len(r.Content) == 0 {
		return dErrors.New(dErrors.CodeValidation, "evidence content required")
	}
	if strings.TrimSpace(r.Description) == "" {
		return dErrors.New(dErrors.CodeValidation, "description required")
	}
	if r.CaseID != nil && r.CaseID.Sign() < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "case ID must not be negative")
	}
	return nil
}

// Result describes a confirmed (or pending) ledger write. ID is the
// evidence or case id emitted by the contract, when the call produces one.
type Result struct {
	TxHash      common.Hash
	BlockNumber uint64
	ID          *big.Int
	// Pending is set when confirmation timed out: the write may still land.
	Pending bool
}

// Verification compares local content with what the ledger recorded.
type Verification struct {
	EvidenceID   *big.Int
	ExpectedHash string
	ActualHash   string
	HashMatches  bool
	CID          string
	CIDMatches   bool
}

// Intact reports whether both the hash and the CID match.
func (v *Verification) Intact() bool {
	return v.HashMatches && v.CIDMatches
}

// HashContent returns the 0x-prefixed hex sha256 of content, the form
// stored on the ledger.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return "0x" + hex.EncodeToString(sum[:])
}

// ContentCID derives the CIDv1 (raw codec, sha2-256) of content.
func ContentCID(content []byte) (cid.Cid, error) {
	prefix := cid.Prefix{Version: 1, Codec: cid.Raw, MhType: mh.SHA2_256, MhLength: -1}
	return prefix.Sum(content)
}

// ParseCID validates a content identifier.
func ParseCID(s string) (cid.Cid, error) {
	c, err := cid.Decode(strings.TrimSpace(s))
	if err != nil {
		return cid.Undef, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid content identifier")
	}
	return c, nil
}

// MatchesCID reports whether content hashes to c under c's own prefix.
func MatchesCID(c cid.Cid, content []byte) bool {
	got, err := c.Prefix().Sum(content)
	if err != nil {
		return false
	}
	return got.Equals(c)
}
