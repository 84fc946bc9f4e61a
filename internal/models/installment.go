package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstallmentPlan is the repayment schedule a borrower selected.
// Count and per-installment amounts are fixed once selected; only the proof
// fields of each installment change afterwards.
type InstallmentPlan struct {
	PlanIndex    int           `json:"planIndex"`
	PlanName     string        `json:"planName"`
	Installments []Installment `json:"installments"`
}

// Installment is one scheduled repayment.
type Installment struct {
	Date   time.Time       `json:"date"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note,omitempty"`

	ProofUploaded bool       `json:"proofUploaded"`
	ProofURL      string     `json:"proofUrl,omitempty"`
	ProofFileName string     `json:"proofFileName,omitempty"`
	UploadedAt    *time.Time `json:"uploadedAt,omitempty"`
}

// Total sums the installment amounts.
func (p *InstallmentPlan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, inst := range p.Installments {
		total = total.Add(inst.Amount)
	}
	return total
}

// HasProofs reports whether any installment has a proof attached.
func (p *InstallmentPlan) HasProofs() bool {
	for _, inst := range p.Installments {
		if inst.ProofUploaded {
			return true
		}
	}
	return false
}

// PaidTotal sums the amounts of installments with an uploaded proof.
func (p *InstallmentPlan) PaidTotal() decimal.Decimal {
	total := decimal.Zero
	for _, inst := range p.Installments {
		if inst.ProofUploaded {
			total = total.Add(inst.Amount)
		}
	}
	return total
}

// AttachProof records a proof on installment i. The index must be in range.
func (inst *Installment) AttachProof(proof Proof) {
	at := proof.UploadedAt
	inst.ProofUploaded = true
	inst.ProofURL = proof.URL
	inst.ProofFileName = proof.FileName
	inst.UploadedAt = &at
}

// ClearProof resets the proof fields.
func (inst *Installment) ClearProof() {
	inst.ProofUploaded = false
	inst.ProofURL = ""
	inst.ProofFileName = ""
	inst.UploadedAt = nil
}

// Clone returns a deep copy of the plan.
func (p *InstallmentPlan) Clone() *InstallmentPlan {
	c := *p
	c.Installments = make([]Installment, len(p.Installments))
	for i, inst := range p.Installments {
		c.Installments[i] = inst
		if inst.UploadedAt != nil {
			t := *inst.UploadedAt
			c.Installments[i].UploadedAt = &t
		}
	}
	return &c
}
