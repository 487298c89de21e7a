package plan

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/codehash"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/crypto"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/merkle"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/selector"
)

// MaxRuntimeSize is the EIP-170 cap on deployed code. A facet of exactly
// this size already violates it.
const MaxRuntimeSize = 24576

// CheckResult is the outcome of one gate. A skipped gate passes.
type CheckResult struct {
	Name    string
	Skipped bool
	Errs    []error
}

// Passed reports whether the gate found no problems.
func (c CheckResult) Passed() bool { return len(c.Errs) == 0 }

// Err joins the gate's errors.
func (c CheckResult) Err() error { return errkind.Join(c.Errs) }

func (c CheckResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name    string   `json:"name"`
		Passed  bool     `json:"passed"`
		Skipped bool     `json:"skipped,omitempty"`
		Errors  []string `json:"errors,omitempty"`
	}{c.Name, c.Passed(), c.Skipped, errkind.Messages(c.Errs)})
}

// SizeViolation names a facet whose runtime code reaches the EIP-170 cap.
type SizeViolation struct {
	Facet string `json:"facet"`
	Size  int    `json:"size"`
}

// CheckEIP170 returns every facet whose runtime bytecode is at least
// MaxRuntimeSize bytes.
func CheckEIP170(codehashes []codehash.FacetCodehash) []SizeViolation {
	var out []SizeViolation
	for _, c := range codehashes {
		if c.RuntimeSize() >= MaxRuntimeSize {
			out = append(out, SizeViolation{Facet: c.Name, Size: c.RuntimeSize()})
		}
	}
	return out
}

// PreDeploymentInput is everything the pre-deployment gates look at.
// Parity is nil when no reference contract was given. Predicted is only
// consulted in observed mode.
type PreDeploymentInput struct {
	Plan       *DeploymentPlan
	Tree       *merkle.Tree
	Codehashes []codehash.FacetCodehash
	Predicted  []codehash.FacetCodehash
	Parity     *selector.Parity
	Conflicts  []selector.Conflict
}

// PreDeploymentReport holds the five gate results. All gates always run.
type PreDeploymentReport struct {
	SelectorParity      CheckResult     `json:"selectorParity"`
	EIP170              CheckResult     `json:"eip170Compliance"`
	CodehashPredictions CheckResult     `json:"codehashPredictions"`
	MerkleIntegrity     CheckResult     `json:"merkleIntegrity"`
	PlanValidity        CheckResult     `json:"planValidity"`
	Violations          []SizeViolation `json:"violations,omitempty"`
}

// Checks returns the gate results in a fixed order.
func (r *PreDeploymentReport) Checks() []CheckResult {
	return []CheckResult{r.SelectorParity, r.EIP170, r.CodehashPredictions, r.MerkleIntegrity, r.PlanValidity}
}

// Passed reports whether every gate passed.
func (r *PreDeploymentReport) Passed() bool {
	for _, c := range r.Checks() {
		if !c.Passed() {
			return false
		}
	}
	return true
}

// Err joins every gate failure.
func (r *PreDeploymentReport) Err() error {
	var errs []error
	for _, c := range r.Checks() {
		errs = append(errs, c.Errs...)
	}
	return errkind.Join(errs)
}

// RunPreDeploymentChecks runs selector parity, EIP-170, codehash
// prediction consistency, Merkle integrity and plan validity, and reports
// them together.
func (b *Builder) RunPreDeploymentChecks(in PreDeploymentInput) *PreDeploymentReport {
	r := &PreDeploymentReport{
		SelectorParity:      checkSelectorParity(in),
		CodehashPredictions: checkCodehashPredictions(in),
		MerkleIntegrity:     checkMerkleIntegrity(in),
		PlanValidity:        checkPlanValidity(in),
	}
	r.Violations = CheckEIP170(in.Codehashes)
	r.EIP170 = CheckResult{Name: "eip170Compliance"}
	for _, v := range r.Violations {
		r.EIP170.Errs = append(r.EIP170.Errs, errkind.Newf(errkind.ErrSizeViolation, "eip170", v.Facet,
			"runtime size %d bytes, limit %d", v.Size, MaxRuntimeSize))
	}
	for _, c := range r.Checks() {
		if c.Passed() {
			b.log.Debug("gate passed", "gate", c.Name, "skipped", c.Skipped)
		} else {
			b.log.Warn("gate failed", "gate", c.Name, "errors", len(c.Errs))
		}
	}
	return r
}

func checkSelectorParity(in PreDeploymentInput) CheckResult {
	c := CheckResult{Name: "selectorParity", Skipped: in.Parity == nil && len(in.Conflicts) == 0}
	for _, conf := range in.Conflicts {
		c.Errs = append(c.Errs, conf.Err())
	}
	if in.Parity != nil {
		for _, m := range in.Parity.Missing {
			c.Errs = append(c.Errs, errkind.Newf(errkind.ErrConsistency, "selector parity", m.Selector.Hex(),
				"%s missing from facets", m.Signature))
		}
		for _, x := range in.Parity.Extra {
			c.Errs = append(c.Errs, errkind.Newf(errkind.ErrConsistency, "selector parity", x.Selector.Hex(),
				"%s (%s) not in reference", x.Signature, x.Facet))
		}
	}
	return c
}

// checkCodehashPredictions re-derives every predictive codehash from its
// bytecode and checks that all records share one build hash. In observed
// mode it compares against the predicted set when one is supplied.
func checkCodehashPredictions(in PreDeploymentInput) CheckResult {
	c := CheckResult{Name: "codehashPredictions"}
	mode := codehash.Predictive
	if in.Plan != nil {
		mode = in.Plan.Mode
	}
	switch mode {
	case codehash.Predictive:
		for i, ch := range in.Codehashes {
			if got := crypto.Keccak256Hash(ch.RuntimeBytecode); got != ch.Codehash {
				c.Errs = append(c.Errs, errkind.Newf(errkind.ErrConsistency, "codehash", ch.Name,
					"recorded %s, bytecode hashes to %s", ch.Codehash.Hex(), got.Hex()))
			}
			if i > 0 && ch.BuildHash != in.Codehashes[0].BuildHash {
				c.Errs = append(c.Errs, errkind.Newf(errkind.ErrConsistency, "codehash", ch.Name,
					"build hash %s differs from %s", ch.BuildHash.Hex(), in.Codehashes[0].BuildHash.Hex()))
			}
		}
	case codehash.Observed:
		if in.Predicted == nil {
			c.Skipped = true
			break
		}
		if err := codehash.VerifyParity(in.Predicted, in.Codehashes).Err(); err != nil {
			c.Errs = append(c.Errs, err)
		}
	}
	return c
}

func checkMerkleIntegrity(in PreDeploymentInput) CheckResult {
	c := CheckResult{Name: "merkleIntegrity"}
	if in.Tree == nil {
		c.Errs = append(c.Errs, errkind.Newf(errkind.ErrStructural, "merkle", "", "no tree"))
		return c
	}
	if err := in.Tree.VerifyAll(); err != nil {
		c.Errs = append(c.Errs, err)
	}
	if in.Plan == nil {
		return c
	}
	if in.Plan.Root != in.Tree.Root {
		c.Errs = append(c.Errs, errkind.Newf(errkind.ErrIntegrity, "merkle", "",
			"plan root %s, tree root %s", in.Plan.Root.Hex(), in.Tree.Root.Hex()))
	}
	if len(in.Plan.Selectors) != len(in.Tree.Leaves) {
		c.Errs = append(c.Errs, errkind.Newf(errkind.ErrIntegrity, "merkle", "",
			"plan has %d routes, tree has %d leaves", len(in.Plan.Selectors), len(in.Tree.Leaves)))
		return c
	}
	for i, l := range in.Tree.Leaves {
		if in.Plan.Selectors[i] != l.Selector || in.Plan.Facets[i] != l.Facet || in.Plan.Codehashes[i] != l.Codehash {
			c.Errs = append(c.Errs, errkind.Newf(errkind.ErrIntegrity, "merkle", l.Selector.Hex(),
				"plan route %d does not match tree leaf", i))
		}
	}
	return c
}

func checkPlanValidity(in PreDeploymentInput) CheckResult {
	c := CheckResult{Name: "planValidity"}
	if in.Plan == nil {
		c.Errs = append(c.Errs, errkind.Newf(errkind.ErrStructural, "plan validity", "", "no plan"))
		return c
	}
	c.Errs = in.Plan.Doc().Validate()
	return c
}

// IsFatal reports whether err blocks artifact emission: structural and
// integrity failures do, the rest only block readiness.
func IsFatal(err error) bool {
	return errors.Is(err, errkind.ErrStructural) || errors.Is(err, errkind.ErrIntegrity)
}

func (v SizeViolation) String() string { return fmt.Sprintf("%s: %d bytes", v.Facet, v.Size) }
