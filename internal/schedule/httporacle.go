package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// maxResponseBytes caps how much of an oracle response is read.
const maxResponseBytes = 4 << 20

// HTTPOracle asks a remote plan generator for candidate plans over JSON.
type HTTPOracle struct {
	url    string
	client *http.Client
}

type oracleRequest struct {
	Amount     string  `json:"amount"`
	Currency   string  `json:"currency"`
	DueDate    string  `json:"dueDate"`
	PartyName  string  `json:"partyName"`
	Windows    Windows `json:"windows"`
	PlanCount  int     `json:"planCount"`
	DateFormat string  `json:"dateFormat"`
}

type oracleResponse struct {
	Plans []struct {
		Name           string          `json:"planName"`
		Description    string          `json:"description"`
		DurationMonths int             `json:"durationMonths"`
		TotalAmount    decimal.Decimal `json:"totalAmount"`
		Installments   []struct {
			Date   string          `json:"date"`
			Amount decimal.Decimal `json:"amount"`
			Note   string          `json:"note"`
		} `json:"installments"`
	} `json:"plans"`
}

type oracleError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewHTTPOracle creates an oracle client posting to url with the given timeout.
func NewHTTPOracle(url string, timeout time.Duration) *HTTPOracle {
	return &HTTPOracle{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Propose implements Oracle. Non-2xx responses are returned as *StatusError
// so the generator can classify them.
func (o *HTTPOracle) Propose(ctx context.Context, req Request) ([]Plan, error) {
	if o.url == "" {
		return nil, fmt.Errorf("schedule oracle URL not configured")
	}

	body, err := json.Marshal(oracleRequest{
		Amount:     req.Amount.StringFixed(2),
		Currency:   req.Currency,
		DueDate:    req.DueDate.Format(time.DateOnly),
		PartyName:  req.PartyName,
		Windows:    req.Windows,
		PlanCount:  3,
		DateFormat: time.DateOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call schedule oracle: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(respBody) > maxResponseBytes {
		return nil, fmt.Errorf("oracle response exceeds %d bytes", maxResponseBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(respBody)
		var oe oracleError
		if json.Unmarshal(respBody, &oe) == nil && oe.Error.Message != "" {
			msg = oe.Error.Message
		}
		return nil, &StatusError{Code: resp.StatusCode, Message: msg}
	}

	var out oracleResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to decode oracle response: %w", err)
	}

	plans := make([]Plan, 0, len(out.Plans))
	for _, p := range out.Plans {
		plan := Plan{
			Name:           p.Name,
			Description:    p.Description,
			DurationMonths: p.DurationMonths,
			TotalAmount:    p.TotalAmount,
			Installments:   make([]Installment, 0, len(p.Installments)),
		}
		for _, inst := range p.Installments {
			date, err := parseOracleDate(inst.Date, req.DueDate.Location())
			if err != nil {
				return nil, fmt.Errorf("plan %q: %w", p.Name, err)
			}
			plan.Installments = append(plan.Installments, Installment{Date: date, Amount: inst.Amount, Note: inst.Note})
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// parseOracleDate accepts a calendar date or a full RFC 3339 timestamp.
func parseOracleDate(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid installment date %q", s)
	}
	return t, nil
}
