package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mmynk/trustfirst/internal/ledger"
	"github.com/mmynk/trustfirst/internal/models"
	"github.com/mmynk/trustfirst/internal/proofstore"
)

// AgreementService exposes the agreement state machine over Connect. The
// caller's identity comes from the auth interceptor.
type AgreementService struct {
	ledger *ledger.Agreements
}

// NewAgreementService creates a new AgreementService.
func NewAgreementService(l *ledger.Agreements) *AgreementService {
	return &AgreementService{ledger: l}
}

// NewAgreementServiceHandler builds the HTTP handler for the service.
func NewAgreementServiceHandler(s *AgreementService, opts ...connect.HandlerOption) (string, http.Handler) {
	r := newRoutes(AgreementServiceName, opts)
	handle(r, "CreateAgreement", s.CreateAgreement)
	handle(r, "GetAgreement", s.GetAgreement)
	handle(r, "ListAgreements", s.ListAgreements)
	handle(r, "DeleteAgreement", s.DeleteAgreement)
	handle(r, "ApproveWitness", s.ApproveWitness)
	handle(r, "AttachRepaymentProof", s.AttachRepaymentProof)
	handle(r, "Settle", s.Settle)
	handle(r, "ExtendDueDate", s.ExtendDueDate)
	handle(r, "SetStrictMode", s.SetStrictMode)
	handle(r, "RecordMoneySent", s.RecordMoneySent)
	handle(r, "RefreshTrustScore", s.RefreshTrustScore)
	handle(r, "GeneratePlans", s.GeneratePlans)
	handle(r, "SelectInstallmentPlan", s.SelectInstallmentPlan)
	handle(r, "UploadInstallmentProof", s.UploadInstallmentProof)
	handle(r, "RemoveInstallmentProof", s.RemoveInstallmentProof)
	handle(r, "RecordLocation", s.RecordLocation)
	handle(r, "GetLatestLocation", s.GetLatestLocation)
	return r.handler()
}

func (s *AgreementService) respond(a *models.Agreement) *connect.Response[AgreementResponse] {
	return connect.NewResponse(&AgreementResponse{Agreement: view(a, s.ledger.Now())})
}

// visible loads an agreement the caller takes part in.
func (s *AgreementService) visible(ctx context.Context, id, userID, email string) (*models.Agreement, error) {
	a, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ledger.CanView(a, userID, email) {
		return nil, fmt.Errorf("agreement %s: %w", id, models.ErrForbidden)
	}
	return a, nil
}

func requireProof(f *FileUpload) (proofstore.Upload, error) {
	if f == nil {
		return proofstore.Upload{}, fmt.Errorf("proof is required: %w", models.ErrInvalidArgument)
	}
	return f.upload(), nil
}

// CreateAgreement records a new loan with the caller as lender.
func (s *AgreementService) CreateAgreement(ctx context.Context, req *connect.Request[CreateAgreementRequest]) (*connect.Response[AgreementResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("CreateAgreement request received",
		"lender_id", userID,
		"borrower_email", req.Msg.BorrowerEmail,
		"amount", req.Msg.Amount.String(),
		"has_witness", req.Msg.Witness != nil,
	)

	in := ledger.CreateInput{
		LenderID:      userID,
		BorrowerEmail: req.Msg.BorrowerEmail,
		BorrowerPhone: req.Msg.BorrowerPhone,
		Amount:        req.Msg.Amount,
		Purpose:       req.Msg.Purpose,
		DueDate:       req.Msg.DueDate,
		BufferDays:    req.Msg.BufferDays,
		StrictMode:    req.Msg.StrictMode,
		Witness:       req.Msg.Witness,
	}
	if req.Msg.LenderProof != nil {
		up := req.Msg.LenderProof.upload()
		in.LenderProof = &up
	}

	a, err := s.ledger.Create(ctx, in)
	if err != nil {
		return nil, failed("CreateAgreement", err, "lender_id", userID)
	}
	return s.respond(a), nil
}

// GetAgreement returns an agreement visible to the caller.
func (s *AgreementService) GetAgreement(ctx context.Context, req *connect.Request[AgreementRequest]) (*connect.Response[AgreementResponse], error) {
	userID, email, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("GetAgreement request received", "agreement_id", req.Msg.AgreementID, "user_id", userID)

	a, err := s.visible(ctx, req.Msg.AgreementID, userID, email)
	if err != nil {
		return nil, failed("GetAgreement", err, "agreement_id", req.Msg.AgreementID)
	}
	return s.respond(a), nil
}

// ListAgreements returns the agreements where the caller lends or borrows.
func (s *AgreementService) ListAgreements(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[ListAgreementsResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("ListAgreements request received", "user_id", userID)

	agreements, err := s.ledger.ListForParty(ctx, userID)
	if err != nil {
		return nil, failed("ListAgreements", err, "user_id", userID)
	}
	now := s.ledger.Now()
	views := make([]*AgreementView, 0, len(agreements))
	for _, a := range agreements {
		views = append(views, view(a, now))
	}
	return connect.NewResponse(&ListAgreementsResponse{Agreements: views}), nil
}

// DeleteAgreement removes an agreement. Only the lender may delete it.
func (s *AgreementService) DeleteAgreement(ctx context.Context, req *connect.Request[AgreementRequest]) (*connect.Response[Empty], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("DeleteAgreement request received", "agreement_id", req.Msg.AgreementID, "user_id", userID)

	a, err := s.ledger.Get(ctx, req.Msg.AgreementID)
	if err != nil {
		return nil, failed("DeleteAgreement", err, "agreement_id", req.Msg.AgreementID)
	}
	if a.Lender.ID != userID {
		err := fmt.Errorf("only the lender may delete agreement %s: %w", a.ID, models.ErrForbidden)
		return nil, failed("DeleteAgreement", err, "agreement_id", a.ID)
	}
	if err := s.ledger.Delete(ctx, a.ID); err != nil {
		return nil, failed("DeleteAgreement", err, "agreement_id", a.ID)
	}
	return connect.NewResponse(&Empty{}), nil
}

// ApproveWitness records the caller's approval as witness.
func (s *AgreementService) ApproveWitness(ctx context.Context, req *connect.Request[AgreementRequest]) (*connect.Response[AgreementResponse], error) {
	_, email, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("ApproveWitness request received", "agreement_id", req.Msg.AgreementID, "email", email)

	a, err := s.ledger.ApproveWitness(ctx, req.Msg.AgreementID, email)
	if err != nil {
		return nil, failed("ApproveWitness", err, "agreement_id", req.Msg.AgreementID)
	}
	return s.respond(a), nil
}

// AttachRepaymentProof uploads the borrower's repayment proof.
func (s *AgreementService) AttachRepaymentProof(ctx context.Context, req *connect.Request[ProofRequest]) (*connect.Response[AgreementResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("AttachRepaymentProof request received", "agreement_id", req.Msg.AgreementID, "user_id", userID)

	up, err := requireProof(req.Msg.Proof)
	if err != nil {
		return nil, failed("AttachRepaymentProof", err, "agreement_id", req.Msg.AgreementID)
	}
	a, err := s.ledger.AttachRepaymentProof(ctx, req.Msg.AgreementID, userID, up)
	if err != nil {
		return nil, failed("AttachRepaymentProof", err, "agreement_id", req.Msg.AgreementID)
	}
	return s.respond(a), nil
}

// Settle marks the loan repaid.
func (s *AgreementService) Settle(ctx context.Context, req *connect.Request[AgreementRequest]) (*connect.Response[AgreementResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("Settle request received", "agreement_id", req.Msg.AgreementID, "user_id", userID)

	a, err := s.ledger.Settle(ctx, req.Msg.AgreementID, userID)
	if err != nil {
		return nil, failed("Settle", err, "agreement_id", req.Msg.AgreementID)
	}
	return s.respond(a), nil
}

// ExtendDueDate spends buffer days.
func (s *AgreementService) ExtendDueDate(ctx context.Context, req *connect.Request[ExtendDueDateRequest]) (*connect.Response[AgreementResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("ExtendDueDate request received", "agreement_id", req.Msg.AgreementID, "days", req.Msg.Days)

	a, err := s.ledger.ExtendDueDate(ctx, req.Msg.AgreementID, userID, req.Msg.Days)
	if err != nil {
		return nil, failed("ExtendDueDate", err, "agreement_id", req.Msg.AgreementID, "days", req.Msg.Days)
	}
	return s.respond(a), nil
}

// SetStrictMode toggles strict scoring.
func (s *AgreementService) SetStrictMode(ctx context.Context, req *connect.Request[SetStrictModeRequest]) (*connect.Response[AgreementResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("SetStrictMode request received", "agreement_id", req.Msg.AgreementID, "strict", req.Msg.StrictMode)

	a, err := s.ledger.SetStrictMode(ctx, req.Msg.AgreementID, userID, req.Msg.StrictMode)
	if err != nil {
		return nil, failed("SetStrictMode", err, "agreement_id", req.Msg.AgreementID)
	}
	return s.respond(a), nil
}

// RecordMoneySent attaches the lender's transfer proof.
func (s *AgreementService) RecordMoneySent(ctx context.Context, req *connect.Request[ProofRequest]) (*connect.Response[AgreementResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("RecordMoneySent request received", "agreement_id", req.Msg.AgreementID, "user_id", userID)

	up, err := requireProof(req.Msg.Proof)
	if err != nil {
		return nil, failed("RecordMoneySent", err, "agreement_id", req.Msg.AgreementID)
	}
	a, err := s.ledger.RecordMoneySent(ctx, req.Msg.AgreementID, userID, up)
	if err != nil {
		return nil, failed("RecordMoneySent", err, "agreement_id", req.Msg.AgreementID)
	}
	return s.respond(a), nil
}

// RefreshTrustScore persists the trust score as of now.
func (s *AgreementService) RefreshTrustScore(ctx context.Context, req *connect.Request[AgreementRequest]) (*connect.Response[AgreementResponse], error) {
	userID, email, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("RefreshTrustScore request received", "agreement_id", req.Msg.AgreementID)

	if _, err := s.visible(ctx, req.Msg.AgreementID, userID, email); err != nil {
		return nil, failed("RefreshTrustScore", err, "agreement_id", req.Msg.AgreementID)
	}
	a, err := s.ledger.RefreshTrustScore(ctx, req.Msg.AgreementID)
	if err != nil {
		return nil, failed("RefreshTrustScore", err, "agreement_id", req.Msg.AgreementID)
	}
	return s.respond(a), nil
}

// GeneratePlans asks the plan oracle for repayment candidates.
func (s *AgreementService) GeneratePlans(ctx context.Context, req *connect.Request[AgreementRequest]) (*connect.Response[GeneratePlansResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("GeneratePlans request received", "agreement_id", req.Msg.AgreementID, "user_id", userID)

	plans, err := s.ledger.GeneratePlans(ctx, req.Msg.AgreementID, userID)
	if err != nil {
		return nil, failed("GeneratePlans", err, "agreement_id", req.Msg.AgreementID)
	}
	return connect.NewResponse(&GeneratePlansResponse{Plans: plans}), nil
}

// SelectInstallmentPlan stores the borrower's chosen plan.
func (s *AgreementService) SelectInstallmentPlan(ctx context.Context, req *connect.Request[SelectPlanRequest]) (*connect.Response[AgreementResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("SelectInstallmentPlan request received",
		"agreement_id", req.Msg.AgreementID,
		"plan", req.Msg.Name,
		"installments", len(req.Msg.Installments),
	)

	a, err := s.ledger.SelectInstallmentPlan(ctx, req.Msg.AgreementID, userID, ledger.PlanSelection{
		Index:        req.Msg.Index,
		Name:         req.Msg.Name,
		Installments: req.Msg.Installments,
	})
	if err != nil {
		return nil, failed("SelectInstallmentPlan", err, "agreement_id", req.Msg.AgreementID)
	}
	return s.respond(a), nil
}

// UploadInstallmentProof attaches a proof to one installment.
func (s *AgreementService) UploadInstallmentProof(ctx context.Context, req *connect.Request[InstallmentProofRequest]) (*connect.Response[AgreementResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("UploadInstallmentProof request received", "agreement_id", req.Msg.AgreementID, "index", req.Msg.Index)

	up, err := requireProof(req.Msg.Proof)
	if err != nil {
		return nil, failed("UploadInstallmentProof", err, "agreement_id", req.Msg.AgreementID)
	}
	a, err := s.ledger.UploadInstallmentProof(ctx, req.Msg.AgreementID, userID, req.Msg.Index, up)
	if err != nil {
		return nil, failed("UploadInstallmentProof", err, "agreement_id", req.Msg.AgreementID, "index", req.Msg.Index)
	}
	return s.respond(a), nil
}

// RemoveInstallmentProof clears one installment's proof.
func (s *AgreementService) RemoveInstallmentProof(ctx context.Context, req *connect.Request[InstallmentProofRequest]) (*connect.Response[AgreementResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("RemoveInstallmentProof request received", "agreement_id", req.Msg.AgreementID, "index", req.Msg.Index)

	a, err := s.ledger.RemoveInstallmentProof(ctx, req.Msg.AgreementID, userID, req.Msg.Index)
	if err != nil {
		return nil, failed("RemoveInstallmentProof", err, "agreement_id", req.Msg.AgreementID, "index", req.Msg.Index)
	}
	return s.respond(a), nil
}

// RecordLocation stores a location sample for the caller.
func (s *AgreementService) RecordLocation(ctx context.Context, req *connect.Request[RecordLocationRequest]) (*connect.Response[LocationResponse], error) {
	userID, email, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("RecordLocation request received",
		"agreement_id", req.Msg.AgreementID,
		"user_id", userID,
		"emergency", req.Msg.IsEmergency,
	)

	loc, err := s.ledger.RecordLocation(ctx, ledger.LocationInput{
		AgreementID: req.Msg.AgreementID,
		UserID:      userID,
		Email:       email,
		Latitude:    req.Msg.Latitude,
		Longitude:   req.Msg.Longitude,
		Context:     string(req.Msg.Context),
		IsEmergency: req.Msg.IsEmergency,
	})
	if err != nil {
		return nil, failed("RecordLocation", err, "agreement_id", req.Msg.AgreementID)
	}
	return connect.NewResponse(&LocationResponse{Location: loc}), nil
}

// GetLatestLocation returns the newest sample for an agreement the caller
// takes part in.
func (s *AgreementService) GetLatestLocation(ctx context.Context, req *connect.Request[AgreementRequest]) (*connect.Response[LocationResponse], error) {
	userID, email, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("GetLatestLocation request received", "agreement_id", req.Msg.AgreementID)

	if _, err := s.visible(ctx, req.Msg.AgreementID, userID, email); err != nil {
		return nil, failed("GetLatestLocation", err, "agreement_id", req.Msg.AgreementID)
	}
	loc, err := s.ledger.LatestLocation(ctx, req.Msg.AgreementID)
	if err != nil {
		return nil, failed("GetLatestLocation", err, "agreement_id", req.Msg.AgreementID)
	}
	return connect.NewResponse(&LocationResponse{Location: loc}), nil
}
