package disclosure

import (
	"fmt"

	"github.com/getwalmarket/walmarket/oracle"
)

// Policy describes who may recover premium evidence: any Threshold of the
// KeyServers' shares reconstruct the data key.
type Policy struct {
	ID         string   `json:"policy_id" yaml:"policy_id"`
	PackageID  string   `json:"package_id" yaml:"package_id"`
	Threshold  int      `json:"threshold" yaml:"threshold"`
	KeyServers []string `json:"key_servers" yaml:"key_servers"`
}

func (p Policy) Validate() error {
	if p.ID == "" {
		return oracle.NewError(oracle.KindValidation, "ORACLE-SEAL-010", "policy id is required")
	}
	if p.Threshold < 1 {
		return oracle.NewError(oracle.KindValidation, "ORACLE-SEAL-011", "threshold must be at least 1")
	}
	if len(p.KeyServers) < p.Threshold {
		return oracle.NewError(oracle.KindValidation, "ORACLE-SEAL-012",
			fmt.Sprintf("threshold %d exceeds %d key servers", p.Threshold, len(p.KeyServers)))
	}
	return nil
}

// MoveCall is an unsigned Sui Move call description.
type MoveCall struct {
	Function      string   `json:"function"`
	Module        string   `json:"module"`
	Arguments     []any    `json:"arguments"`
	TypeArguments []string `json:"type_arguments"`
}

// AccessPolicyTx describes the call that configures premium access for a market.
func AccessPolicyTx(marketID, encryptedBlobID, publicBlobID string, p Policy) MoveCall {
	return MoveCall{
		Function: "configure_market_access",
		Module:   "seal_access",
		Arguments: []any{
			marketID,
			true, // requires_premium
			encryptedBlobID,
			publicBlobID,
			p.PackageID,
			p.ID,
		},
		TypeArguments: []string{},
	}
}
