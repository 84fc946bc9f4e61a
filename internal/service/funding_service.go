package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mmynk/trustfirst/internal/ledger"
	"github.com/mmynk/trustfirst/internal/models"
)

// FundingService implements groups and group money requests.
type FundingService struct {
	funding *ledger.Funding
}

// NewFundingService creates a new FundingService.
func NewFundingService(f *ledger.Funding) *FundingService {
	return &FundingService{funding: f}
}

// NewFundingServiceHandler builds the HTTP handler for the service.
func NewFundingServiceHandler(s *FundingService, opts ...connect.HandlerOption) (string, http.Handler) {
	r := newRoutes(FundingServiceName, opts)
	handle(r, "CreateGroup", s.CreateGroup)
	handle(r, "GetGroup", s.GetGroup)
	handle(r, "ListGroups", s.ListGroups)
	handle(r, "AddMember", s.AddMember)
	handle(r, "CreateMoneyRequest", s.CreateMoneyRequest)
	handle(r, "GetMoneyRequest", s.GetMoneyRequest)
	handle(r, "ListMoneyRequests", s.ListMoneyRequests)
	handle(r, "CancelMoneyRequest", s.CancelMoneyRequest)
	handle(r, "Contribute", s.Contribute)
	return r.handler()
}

// memberGroup loads a group the user belongs to.
func (s *FundingService) memberGroup(ctx context.Context, groupID, userID string) (*models.Group, error) {
	group, err := s.funding.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.HasMember(userID) {
		return nil, fmt.Errorf("group %s: %w", groupID, models.ErrForbidden)
	}
	return group, nil
}

// CreateGroup creates a new group with the caller as its first member.
func (s *FundingService) CreateGroup(ctx context.Context, req *connect.Request[CreateGroupRequest]) (*connect.Response[GroupResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("CreateGroup request received",
		"name", req.Msg.Name,
		"members_count", len(req.Msg.MemberEmails),
	)

	group, err := s.funding.CreateGroup(ctx, ledger.GroupInput{
		Name:         req.Msg.Name,
		Description:  req.Msg.Description,
		CreatorID:    userID,
		MemberEmails: req.Msg.MemberEmails,
	})
	if err != nil {
		return nil, failed("CreateGroup", err, "name", req.Msg.Name)
	}

	slog.Info("Group created", "group_id", group.ID)
	return connect.NewResponse(&GroupResponse{Group: group}), nil
}

// GetGroup retrieves a group the caller belongs to.
func (s *FundingService) GetGroup(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[GroupResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("GetGroup request received", "group_id", req.Msg.GroupID)

	group, err := s.memberGroup(ctx, req.Msg.GroupID, userID)
	if err != nil {
		return nil, failed("GetGroup", err, "group_id", req.Msg.GroupID)
	}
	return connect.NewResponse(&GroupResponse{Group: group}), nil
}

// ListGroups returns the caller's groups.
func (s *FundingService) ListGroups(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[ListGroupsResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("ListGroups request received", "user_id", userID)

	groups, err := s.funding.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, failed("ListGroups", err, "user_id", userID)
	}

	slog.Info("ListGroups successful", "count", len(groups))
	return connect.NewResponse(&ListGroupsResponse{Groups: groups}), nil
}

// AddMember adds a user to a group by email.
func (s *FundingService) AddMember(ctx context.Context, req *connect.Request[AddMemberRequest]) (*connect.Response[GroupResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("AddMember request received", "group_id", req.Msg.GroupID, "email", req.Msg.Email)

	group, err := s.funding.AddMember(ctx, req.Msg.GroupID, userID, req.Msg.Email)
	if err != nil {
		return nil, failed("AddMember", err, "group_id", req.Msg.GroupID)
	}
	return connect.NewResponse(&GroupResponse{Group: group}), nil
}

// CreateMoneyRequest opens a funding request on behalf of the caller.
func (s *FundingService) CreateMoneyRequest(ctx context.Context, req *connect.Request[CreateMoneyRequestRequest]) (*connect.Response[MoneyRequestResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("CreateMoneyRequest request received",
		"group_id", req.Msg.GroupID,
		"requester_id", userID,
		"amount", req.Msg.Amount.String(),
	)

	m, err := s.funding.CreateMoneyRequest(ctx, ledger.MoneyRequestInput{
		GroupID:     req.Msg.GroupID,
		RequesterID: userID,
		Amount:      req.Msg.Amount,
		Purpose:     req.Msg.Purpose,
		DueDate:     req.Msg.DueDate,
		Phone:       req.Msg.Phone,
	})
	if err != nil {
		return nil, failed("CreateMoneyRequest", err, "group_id", req.Msg.GroupID)
	}
	return connect.NewResponse(&MoneyRequestResponse{MoneyRequest: m}), nil
}

// GetMoneyRequest returns a request in one of the caller's groups.
func (s *FundingService) GetMoneyRequest(ctx context.Context, req *connect.Request[MoneyRequestRequest]) (*connect.Response[MoneyRequestResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("GetMoneyRequest request received", "money_request_id", req.Msg.MoneyRequestID)

	m, err := s.funding.GetMoneyRequest(ctx, req.Msg.MoneyRequestID)
	if err != nil {
		return nil, failed("GetMoneyRequest", err, "money_request_id", req.Msg.MoneyRequestID)
	}
	if _, err := s.memberGroup(ctx, m.GroupID, userID); err != nil {
		return nil, failed("GetMoneyRequest", err, "money_request_id", m.ID)
	}
	return connect.NewResponse(&MoneyRequestResponse{MoneyRequest: m}), nil
}

// ListMoneyRequests returns a group's open and fulfilled requests.
func (s *FundingService) ListMoneyRequests(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[ListMoneyRequestsResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("ListMoneyRequests request received", "group_id", req.Msg.GroupID)

	if _, err := s.memberGroup(ctx, req.Msg.GroupID, userID); err != nil {
		return nil, failed("ListMoneyRequests", err, "group_id", req.Msg.GroupID)
	}
	requests, err := s.funding.ListMoneyRequests(ctx, req.Msg.GroupID)
	if err != nil {
		return nil, failed("ListMoneyRequests", err, "group_id", req.Msg.GroupID)
	}
	return connect.NewResponse(&ListMoneyRequestsResponse{MoneyRequests: requests}), nil
}

// CancelMoneyRequest withdraws the caller's own request.
func (s *FundingService) CancelMoneyRequest(ctx context.Context, req *connect.Request[MoneyRequestRequest]) (*connect.Response[MoneyRequestResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("CancelMoneyRequest request received", "money_request_id", req.Msg.MoneyRequestID)

	m, err := s.funding.CancelMoneyRequest(ctx, req.Msg.MoneyRequestID, userID)
	if err != nil {
		return nil, failed("CancelMoneyRequest", err, "money_request_id", req.Msg.MoneyRequestID)
	}
	return connect.NewResponse(&MoneyRequestResponse{MoneyRequest: m}), nil
}

// Contribute funds part of a request with the caller as lender.
func (s *FundingService) Contribute(ctx context.Context, req *connect.Request[ContributeRequest]) (*connect.Response[ContributeResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("Contribute request received",
		"money_request_id", req.Msg.MoneyRequestID,
		"lender_id", userID,
		"amount", req.Msg.Amount.String(),
	)

	c, err := s.funding.Contribute(ctx, ledger.ContributeInput{
		MoneyRequestID: req.Msg.MoneyRequestID,
		LenderID:       userID,
		Amount:         req.Msg.Amount,
		Witness:        req.Msg.Witness,
		BufferDays:     req.Msg.BufferDays,
	})
	if err != nil {
		return nil, failed("Contribute", err, "money_request_id", req.Msg.MoneyRequestID)
	}
	return connect.NewResponse(&ContributeResponse{
		MoneyRequest: c.Request,
		Agreement:    view(c.Agreement, s.funding.Now()),
	}), nil
}
