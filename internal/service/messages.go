package service

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/trustfirst/internal/calculator"
	"github.com/mmynk/trustfirst/internal/ledger"
	"github.com/mmynk/trustfirst/internal/models"
	"github.com/mmynk/trustfirst/internal/proofstore"
	"github.com/mmynk/trustfirst/internal/schedule"
)

// FileUpload is a proof file sent inline. Data is base64 on the wire.
type FileUpload struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType,omitempty"`
	Data        []byte `json:"data"`
}

func (f *FileUpload) upload() proofstore.Upload {
	return proofstore.Upload{FileName: f.FileName, ContentType: f.ContentType, Data: f.Data}
}

// Account

type RegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Phone       string `json:"phone,omitempty"`
	Password    string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SessionResponse struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

type Empty struct{}

type UserResponse struct {
	User *models.User `json:"user"`
}

type VerifyIdentityResponse struct {
	User *models.User `json:"user"`
	// BonusGranted is false when the user was already verified.
	BonusGranted bool `json:"bonusGranted"`
}

type SummaryResponse struct {
	Summary calculator.Summary `json:"summary"`
}

// Agreements

type CreateAgreementRequest struct {
	BorrowerEmail string               `json:"borrowerEmail"`
	BorrowerPhone string               `json:"borrowerPhone,omitempty"`
	Amount        decimal.Decimal      `json:"amount"`
	Purpose       string               `json:"purpose,omitempty"`
	DueDate       time.Time            `json:"dueDate"`
	BufferDays    *int                 `json:"bufferDays,omitempty"`
	StrictMode    bool                 `json:"strictMode"`
	Witness       *ledger.WitnessInput `json:"witness,omitempty"`
	LenderProof   *FileUpload          `json:"lenderProof,omitempty"`
}

type AgreementRequest struct {
	AgreementID string `json:"agreementId"`
}

type ProofRequest struct {
	AgreementID string      `json:"agreementId"`
	Proof       *FileUpload `json:"proof"`
}

type ExtendDueDateRequest struct {
	AgreementID string `json:"agreementId"`
	Days        int    `json:"days"`
}

type SetStrictModeRequest struct {
	AgreementID string `json:"agreementId"`
	StrictMode  bool   `json:"strictMode"`
}

// AgreementView is an agreement as shown to its parties, with the status
// derived at read time.
type AgreementView struct {
	*models.Agreement
	DisplayStatus models.Status `json:"displayStatus"`
	DaysPastDue   int           `json:"daysPastDue"`
}

func view(a *models.Agreement, now time.Time) *AgreementView {
	return &AgreementView{Agreement: a, DisplayStatus: a.DisplayStatus(now), DaysPastDue: a.DaysPastDue(now)}
}

type AgreementResponse struct {
	Agreement *AgreementView `json:"agreement"`
}

type ListAgreementsResponse struct {
	Agreements []*AgreementView `json:"agreements"`
}

type GeneratePlansResponse struct {
	Plans []schedule.Plan `json:"plans"`
}

type SelectPlanRequest struct {
	AgreementID  string                 `json:"agreementId"`
	Index        int                    `json:"selectedPlanIndex"`
	Name         string                 `json:"planName"`
	Installments []schedule.Installment `json:"installments"`
}

type InstallmentProofRequest struct {
	AgreementID string      `json:"agreementId"`
	Index       int         `json:"installmentIndex"`
	Proof       *FileUpload `json:"proof,omitempty"`
}

type RecordLocationRequest struct {
	AgreementID string          `json:"agreementId"`
	Latitude    float64         `json:"latitude"`
	Longitude   float64         `json:"longitude"`
	Context     json.RawMessage `json:"context,omitempty"`
	IsEmergency bool            `json:"isEmergency"`
}

type LocationResponse struct {
	Location *models.LiveLocation `json:"location"`
}

// Funding

type CreateGroupRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	MemberEmails []string `json:"memberEmails"`
}

type GroupRequest struct {
	GroupID string `json:"groupId"`
}

type AddMemberRequest struct {
	GroupID string `json:"groupId"`
	Email   string `json:"email"`
}

type GroupResponse struct {
	Group *models.Group `json:"group"`
}

type ListGroupsResponse struct {
	Groups []*models.Group `json:"groups"`
}

type CreateMoneyRequestRequest struct {
	GroupID string          `json:"groupId"`
	Amount  decimal.Decimal `json:"amount"`
	Purpose string          `json:"purpose,omitempty"`
	DueDate time.Time       `json:"dueDate"`
	Phone   string          `json:"phone,omitempty"`
}

type MoneyRequestRequest struct {
	MoneyRequestID string `json:"moneyRequestId"`
}

type MoneyRequestResponse struct {
	MoneyRequest *models.MoneyRequest `json:"moneyRequest"`
}

type ListMoneyRequestsResponse struct {
	MoneyRequests []*models.MoneyRequest `json:"moneyRequests"`
}

type ContributeRequest struct {
	MoneyRequestID string               `json:"moneyRequestId"`
	Amount         decimal.Decimal      `json:"amount"`
	Witness        *ledger.WitnessInput `json:"witness,omitempty"`
	BufferDays     *int                 `json:"bufferDays,omitempty"`
}

type ContributeResponse struct {
	MoneyRequest *models.MoneyRequest `json:"moneyRequest"`
	Agreement    *AgreementView       `json:"agreement"`
}
